package pool

import (
	"context"
	"io"

	"github.com/javi11/nzbqueued/internal/nntp"
)

// Puller adapts a Manager onto nntp.ArticlePuller so download workers never
// see the underlying nntppool client directly.
type Puller struct {
	manager Manager
}

// NewPuller wraps manager as an nntp.ArticlePuller.
func NewPuller(manager Manager) *Puller {
	return &Puller{manager: manager}
}

// BodyReader fetches messageID's body through the current pool. If no pool
// is configured (no providers set), it returns the pool's own "not
// available" error unwrapped, so the download worker treats it as a
// transient error and retries it within its normal attempt budget.
func (p *Puller) BodyReader(ctx context.Context, messageID string, groups []string) (io.ReadCloser, error) {
	client, err := p.manager.GetPool()
	if err != nil {
		return nil, err
	}
	return client.BodyReader(ctx, messageID, groups)
}

var _ nntp.ArticlePuller = (*Puller)(nil)
