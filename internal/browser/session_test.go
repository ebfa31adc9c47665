package browser

import (
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseListenerMatchesFirstResponse(t *testing.T) {
	l := newResponseListener("search/list")

	l.handle(&network.EventResponseReceived{
		RequestID: "req-1",
		Response:  &network.Response{URL: "https://www.douyin.com/other/endpoint"},
	})
	select {
	case <-l.matched:
		t.Fatal("non-matching response must not match")
	default:
	}

	l.handle(&network.EventResponseReceived{
		RequestID: "req-2",
		Response:  &network.Response{URL: "https://www.douyin.com/aweme/v1/web/hot/search/list/?device=pc"},
	})
	select {
	case id := <-l.matched:
		assert.EqualValues(t, "req-2", id)
	default:
		t.Fatal("matching response was not forwarded")
	}

	// Later matching responses must not displace the first match.
	l.handle(&network.EventResponseReceived{
		RequestID: "req-3",
		Response:  &network.Response{URL: "https://www.douyin.com/aweme/v1/web/hot/search/list/?page=2"},
	})
	select {
	case <-l.matched:
		t.Fatal("only the first matching response may be forwarded")
	default:
	}
}

func TestResponseListenerSignalsLoadingFinished(t *testing.T) {
	l := newResponseListener("aweme/detail")
	l.handle(&network.EventResponseReceived{
		RequestID: "req-9",
		Response:  &network.Response{URL: "https://www.douyin.com/aweme/v1/web/aweme/detail/"},
	})
	<-l.matched

	// Finish events for other requests are ignored.
	l.handle(&network.EventLoadingFinished{RequestID: "req-1"})
	select {
	case <-l.done:
		t.Fatal("done must not close for an unrelated request")
	default:
	}

	l.handle(&network.EventLoadingFinished{RequestID: "req-9"})
	select {
	case <-l.done:
	default:
		t.Fatal("done must close once the matched request finished loading")
	}

	// A duplicate finish event must not panic on the closed channel.
	l.handle(&network.EventLoadingFinished{RequestID: "req-9"})
}

func TestResponseListenerIgnoresEarlyAndNilEvents(t *testing.T) {
	l := newResponseListener("search/list")

	// A finish event before any match is a no-op.
	l.handle(&network.EventLoadingFinished{RequestID: "req-1"})
	select {
	case <-l.done:
		t.Fatal("done must stay open before a match")
	default:
	}

	l.handle(&network.EventResponseReceived{RequestID: "req-2", Response: nil})
	select {
	case <-l.matched:
		t.Fatal("a response event without a body descriptor must not match")
	default:
	}

	require.NotPanics(t, func() {
		l.handle("unrelated event type")
	})
}
