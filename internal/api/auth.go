package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/mr-tron/base58"

	"agent-rep/internal/solana"
)

// Request signing headers. The signature is base58 ed25519 over
// SigningMessage, made with the private key of the caller identity.
const (
	HeaderKey       = "X-Agent-Key"
	HeaderTimestamp = "X-Agent-Timestamp"
	HeaderSignature = "X-Agent-Signature"
)

const signingDomain = "agent-rep/v1"

// DefaultMaxSkew bounds the difference between the signed timestamp and the server clock.
const DefaultMaxSkew = 5 * time.Minute

const maxBodyBytes = 64 << 10

var (
	errMissingSignature = errors.New("missing signature headers")
	errBadSignature     = errors.New("signature verification failed")
	errStaleSignature   = errors.New("signature timestamp outside the allowed window")
	errReplayed         = errors.New("signature already used")
	errReplayCacheFull  = errors.New("too many signed requests in the replay window")
)

// SigningMessage is the byte string a caller signs for one request.
func SigningMessage(method, requestURI string, timestamp int64, body []byte) []byte {
	sum := sha256.Sum256(body)
	return fmt.Appendf(nil, "%s\n%s\n%s\n%d\n%s", signingDomain, method, requestURI, timestamp, hex.EncodeToString(sum[:]))
}

// SignRequest sets the signing headers on req. body must be the exact
// request body, nil for none.
func SignRequest(req *http.Request, key ed25519.PrivateKey, body []byte, now time.Time) error {
	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return errors.New("not an ed25519 key")
	}
	identity, err := solana.PublicKeyFromBytes(pub)
	if err != nil {
		return err
	}
	ts := now.Unix()
	sig := ed25519.Sign(key, SigningMessage(req.Method, req.URL.RequestURI(), ts, body))
	req.Header.Set(HeaderKey, identity.String())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, base58.Encode(sig))
	return nil
}

// Verifier authenticates signed requests and rejects replays inside the skew window.
// A remembered signature is only forgotten once its timestamp has left the
// window, so a full cache rejects new transitions instead of evicting.
type Verifier struct {
	maxSkew time.Duration
	now     func() time.Time

	mu   sync.Mutex
	seen *lru.Cache // signature -> signed unix timestamp
	size int
}

// NewVerifier creates a Verifier remembering up to seenSize signatures.
func NewVerifier(maxSkew time.Duration, seenSize int, now func() time.Time) (*Verifier, error) {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	if seenSize <= 0 {
		seenSize = 65536
	}
	if now == nil {
		now = time.Now
	}
	seen, err := lru.New(seenSize)
	if err != nil {
		return nil, err
	}
	return &Verifier{maxSkew: maxSkew, now: now, seen: seen, size: seenSize}, nil
}

// Verify checks the signing headers of r, consumes the signature and returns
// the caller identity. Mutating routes use it.
func (v *Verifier) Verify(r *http.Request) (solana.PublicKey, error) {
	return v.verify(r, true)
}

// Identify checks the signing headers of r without consuming the signature.
// Read-only routes use it to attribute a request to its signer.
func (v *Verifier) Identify(r *http.Request) (solana.PublicKey, error) {
	return v.verify(r, false)
}

// verify returns errMissingSignature for an unsigned request. The body is
// read and restored so handlers can bind it.
func (v *Verifier) verify(r *http.Request, consume bool) (solana.PublicKey, error) {
	keyHeader := r.Header.Get(HeaderKey)
	tsHeader := r.Header.Get(HeaderTimestamp)
	sigHeader := r.Header.Get(HeaderSignature)
	if keyHeader == "" && tsHeader == "" && sigHeader == "" {
		return solana.PublicKey{}, errMissingSignature
	}

	caller, err := solana.ParsePublicKey(keyHeader)
	if err != nil {
		return solana.PublicKey{}, err
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s", HeaderTimestamp)
	}
	now := v.now()
	skew := now.Sub(time.Unix(ts, 0))
	if skew > v.maxSkew || skew < -v.maxSkew {
		return solana.PublicKey{}, errStaleSignature
	}
	sig, err := base58.Decode(sigHeader)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return solana.PublicKey{}, errBadSignature
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("read body: %w", err)
		}
		if len(body) > maxBodyBytes {
			return solana.PublicKey{}, errors.New("request body too large")
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	msg := SigningMessage(r.Method, r.URL.RequestURI(), ts, body)
	if !ed25519.Verify(ed25519.PublicKey(caller[:]), msg, sig) {
		return solana.PublicKey{}, errBadSignature
	}
	if consume {
		if err := v.remember(sigHeader, ts, now); err != nil {
			return solana.PublicKey{}, err
		}
	}
	return caller, nil
}

// remember records sig. Expired entries are dropped from the oldest end
// first; an entry still inside the window is never evicted.
func (v *Verifier) remember(sig string, ts int64, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.seen.Contains(sig) {
		return errReplayed
	}
	cutoff := now.Add(-v.maxSkew).Unix()
	for v.seen.Len() >= v.size {
		_, oldest, ok := v.seen.GetOldest()
		if !ok {
			break
		}
		if oldest.(int64) >= cutoff {
			return errReplayCacheFull
		}
		v.seen.RemoveOldest()
	}
	v.seen.Add(sig, ts)
	return nil
}
