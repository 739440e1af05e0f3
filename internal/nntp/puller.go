// Package nntp defines the external boundary between the Job Coordinator
// and the NNTP wire-protocol/connection-pool implementation, which this
// repo treats as an external collaborator specified only at the interface
// level (§6).
package nntp

import (
	"context"
	"io"
)

// ArticlePuller is the capability the Queue Coordinator needs from an NNTP
// worker pool: fetch the body of one article by message id, from one of a
// set of server groups. Its shape matches github.com/javi11/nntppool/v4's
// pool contract (BodyReader-style streaming fetch over a managed connection
// set) so a real pool satisfies it without an adapter (§11).
type ArticlePuller interface {
	// BodyReader opens the decoded body of the article identified by
	// messageID, restricted to one of groups (in preference order). The
	// returned ReadCloser yields raw article bytes; yEnc/UU decoding is an
	// external concern (§1) performed by the pool implementation before
	// bytes reach the Article Writer.
	BodyReader(ctx context.Context, messageID string, groups []string) (io.ReadCloser, error)
}

// StatusError distinguishes a "no such article"/"no such group" outcome
// from a transient connection failure, so the Queue Coordinator can count
// the article as failed (permanent) rather than requeue it.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return e.Message
}

// Permanent reports whether the NNTP response code indicates the article
// will never become available (430/423: no such article/no such group),
// as opposed to a transient pool/connection failure that should be
// retried by the calling worker.
func (e *StatusError) Permanent() bool {
	return e.Code == 430 || e.Code == 423
}
