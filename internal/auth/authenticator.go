// Package auth implements the Freebox challenge-response login flow: a
// one-time application authorization approved by the owner on the Freebox
// front panel, then a fresh session established on every run.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"github.com/fbxtools/fbxvm/internal/freebox"
)

// Bounded approval polling: 24 attempts 5 seconds apart, a two-minute
// ceiling.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxPolls     = 24
)

var (
	// ErrDenied means the owner refused the authorization request, or the
	// Freebox reported a terminal status other than granted.
	ErrDenied = errors.New("auth: authorization denied")

	// ErrTimeout means the owner did not approve the request before the
	// polling budget ran out.
	ErrTimeout = errors.New("auth: authorization not approved in time")

	// ErrStaleCredential means the persisted app token is no longer accepted
	// by the Freebox. The credential file must be removed and the application
	// re-authorized; retrying without doing so cannot succeed.
	ErrStaleCredential = errors.New("auth: persisted credential rejected")
)

// API is the slice of the control API the authenticator needs.
type API interface {
	Authorize(ctx context.Context, req freebox.AuthorizeRequest) (freebox.AuthorizeGrant, error)
	AuthorizeTrack(ctx context.Context, trackID string) (freebox.AuthorizeTrack, error)
	OpenSession(ctx context.Context, appID, password string) (string, error)
}

// Authenticator establishes a session token from the persisted application
// credential, running the one-time authorization flow when none exists.
type Authenticator struct {
	api      API
	store    *Store
	identity freebox.AuthorizeRequest

	// Status messages for the operator (approval prompt, polling progress).
	Out io.Writer

	PollInterval time.Duration
	MaxPolls     int

	log zerolog.Logger
}

// New returns an authenticator with the default polling budget.
func New(api API, store *Store, identity freebox.AuthorizeRequest, log zerolog.Logger) *Authenticator {
	return &Authenticator{
		api:          api,
		store:        store,
		identity:     identity,
		Out:          io.Discard,
		PollInterval: DefaultPollInterval,
		MaxPolls:     DefaultMaxPolls,
		log:          log,
	}
}

// EstablishSession returns a fresh session token. The session is never
// persisted; only the application credential is, and only on first-ever
// authorization.
func (a *Authenticator) EstablishSession(ctx context.Context) (string, error) {
	cred, ok, err := a.store.Load()
	if err != nil {
		return "", err
	}
	if !ok {
		cred, err = a.authorize(ctx)
		if err != nil {
			return "", err
		}
	}

	track, err := a.api.AuthorizeTrack(ctx, cred.TrackID)
	if err != nil {
		return "", fmt.Errorf("fetch challenge: %w", err)
	}
	if track.Challenge == "" {
		return "", fmt.Errorf("%w: no challenge for track %s", ErrStaleCredential, cred.TrackID)
	}

	password := ChallengeResponse(cred.AppToken, track.Challenge)
	token, err := a.api.OpenSession(ctx, a.identity.AppID, password)
	if errors.Is(err, freebox.ErrForbidden) {
		return "", fmt.Errorf("%w: remove %s and re-authorize", ErrStaleCredential, a.store.Path())
	}
	if err != nil {
		return "", err
	}
	a.log.Debug().Msg("session established")
	return token, nil
}

// authorize runs the one-time approval flow. The grant is persisted before
// polling starts, so a crash while waiting does not require re-authorization.
func (a *Authenticator) authorize(ctx context.Context) (Credential, error) {
	grant, err := a.api.Authorize(ctx, a.identity)
	if err != nil {
		return Credential{}, fmt.Errorf("request authorization: %w", err)
	}
	cred := Credential{AppToken: grant.AppToken, TrackID: string(grant.TrackID)}
	if err := a.store.Save(cred); err != nil {
		return Credential{}, err
	}

	fmt.Fprintln(a.Out, "Please approve the application on the Freebox front panel")

	// Min == Max gives the fixed approval poll interval.
	b := &backoff.Backoff{Min: a.PollInterval, Max: a.PollInterval}
	for i := 0; i < a.MaxPolls; i++ {
		track, err := a.api.AuthorizeTrack(ctx, cred.TrackID)
		if err != nil {
			return Credential{}, fmt.Errorf("poll authorization: %w", err)
		}
		switch track.Status {
		case freebox.AuthorizationGranted:
			fmt.Fprintln(a.Out, "Authorization approved")
			return cred, nil
		case freebox.AuthorizationPending:
			fmt.Fprintln(a.Out, "Waiting for approval...")
		default:
			return Credential{}, fmt.Errorf("%w: status %q", ErrDenied, track.Status)
		}

		// Do not sleep past the last attempt.
		if i == a.MaxPolls-1 {
			break
		}
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return Credential{}, ctx.Err()
		}
	}
	return Credential{}, ErrTimeout
}

// ChallengeResponse computes the login password: the hex HMAC-SHA1 digest of
// the challenge keyed by the app token.
func ChallengeResponse(appToken, challenge string) string {
	mac := hmac.New(sha1.New, []byte(appToken))
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}
