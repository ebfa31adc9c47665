package spider

import (
	"context"

	"github.com/mingtechpro/douyin-trends/internal/browser"
)

// BrowserOpener adapts a browser.Gateway to the SessionOpener interface.
func BrowserOpener(g *browser.Gateway) SessionOpener {
	return browserOpener{g: g}
}

type browserOpener struct {
	g *browser.Gateway
}

func (o browserOpener) Open(ctx context.Context) (Session, error) {
	sess, err := o.g.Open(ctx)
	if err != nil {
		return nil, err
	}
	return sess, nil
}
