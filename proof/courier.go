package proof

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/wire"
)

const (
	// DefaultCourierTimeout is the default time a single relay request
	// may take.
	DefaultCourierTimeout = 30 * time.Second

	// maxResponseSize caps the body we're willing to read from a relay.
	maxResponseSize = 32 << 20

	// octetStream is the content type of encoded proofs.
	octetStream = "application/octet-stream"
)

// CollaboratorError wraps a failed call to a service outside of the engine,
// such as the wallet RPC or the proof relay.
type CollaboratorError struct {
	// Op names the failed call.
	Op string

	// Err is the underlying transport or service error.
	Err error
}

// Error returns the error message.
func (c *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", c.Op, c.Err)
}

// Unwrap returns the underlying error.
func (c *CollaboratorError) Unwrap() error {
	return c.Err
}

// Courier publishes proofs to a relay and fetches them back.
type Courier interface {
	Fetcher

	// PublishProof uploads the proof under every key it is filed under.
	PublishProof(ctx context.Context, p *Proof) error
}

// BifrostCourier talks to a Bifrost proof relay over HTTP. Proofs are
// uploaded with a POST and fetched with a GET on
// http://<server>/<txid>:<vout>, burn proofs live at
// http://<server>/<txid>:BURN.
type BifrostCourier struct {
	server string
	client *http.Client
}

// NewBifrostCourier creates a courier for the relay at server, given as
// host:port.
func NewBifrostCourier(server string, timeout time.Duration) *BifrostCourier {
	if timeout == 0 {
		timeout = DefaultCourierTimeout
	}

	return &BifrostCourier{
		server: server,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Server returns the relay the courier talks to.
func (b *BifrostCourier) Server() string {
	return b.server
}

// keyURL returns the relay URL of a key.
func (b *BifrostCourier) keyURL(key string) string {
	server := b.server
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	return strings.TrimSuffix(server, "/") + "/" + key
}

// PublishProof uploads the proof under every key it is filed under.
//
// NOTE: This implements the Courier interface.
func (b *BifrostCourier) PublishProof(ctx context.Context, p *Proof) error {
	proofBytes, err := p.Bytes()
	if err != nil {
		return fmt.Errorf("unable to encode proof: %w", err)
	}

	for _, key := range Keys(p) {
		url := b.keyURL(key)

		req, err := http.NewRequestWithContext(
			ctx, http.MethodPost, url, bytes.NewReader(proofBytes),
		)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", octetStream)

		resp, err := b.client.Do(req)
		if err != nil {
			return &CollaboratorError{Op: "publish proof", Err: err}
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body,
			maxResponseSize))
		resp.Body.Close()

		if resp.StatusCode/100 != 2 {
			return &CollaboratorError{
				Op: "publish proof",
				Err: fmt.Errorf("relay returned %v for %v",
					resp.Status, key),
			}
		}

		log.Debugf("Published proof %v to %v", p.Digest(), url)
	}

	return nil
}

// FetchProofs downloads all proofs the relay holds for the outpoint.
//
// NOTE: This implements the Fetcher interface.
func (b *BifrostCourier) FetchProofs(ctx context.Context,
	op wire.OutPoint) ([]*Proof, error) {

	url := b.keyURL(OutPointKey(op))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", octetStream)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &CollaboratorError{Op: "fetch proofs", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil

	case resp.StatusCode/100 != 2:
		return nil, &CollaboratorError{
			Op:  "fetch proofs",
			Err: fmt.Errorf("relay returned %v for %v", resp.Status, op),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &CollaboratorError{Op: "fetch proofs", Err: err}
	}
	if len(body) == 0 {
		return nil, nil
	}

	proofs, err := DecodeProofs(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("unable to decode relay response for "+
			"%v: %w", op, err)
	}

	return proofs, nil
}

// A compile-time interface to ensure BifrostCourier meets the Courier
// interface.
var _ Courier = (*BifrostCourier)(nil)
