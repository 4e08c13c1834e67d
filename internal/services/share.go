package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/tashad19/Virtual-experiment-sandbox/internal/config"
)

var (
	ErrLinkExpired      = errors.New("share link expired")
	ErrInvalidSignature = errors.New("invalid share signature")
)

// ShareLink is the signed part of a handout URL. The signature covers the
// experiment id, the sharing user and the expiry.
type ShareLink struct {
	ExperimentID string
	Owner        string
	ExpiresAt    int64
	Signature    string
}

func (l ShareLink) Path() string {
	return "/pdf/" + url.PathEscape(l.ExperimentID)
}

func (l ShareLink) Query() url.Values {
	q := url.Values{}
	q.Set("owner", l.Owner)
	q.Set("exp", strconv.FormatInt(l.ExpiresAt, 10))
	q.Set("sig", l.Signature)
	return q
}

// ParseShareLink reads a link back from the served path id and query.
func ParseShareLink(experimentID string, q url.Values) (ShareLink, error) {
	link := ShareLink{ExperimentID: experimentID, Owner: q.Get("owner"), Signature: q.Get("sig")}
	raw := q.Get("exp")
	if raw == "" || link.Signature == "" {
		return ShareLink{}, errors.New("missing signature")
	}
	exp, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return ShareLink{}, errors.New("invalid expiration")
	}
	link.ExpiresAt = exp
	return link, nil
}

// ShareService issues expiring links to exported experiment handouts.
type ShareService struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

func NewShareService(cfg config.Config) *ShareService {
	return &ShareService{
		secret:  []byte(cfg.ShareSecret),
		baseURL: cfg.BaseURL,
		ttl:     cfg.ShareTTL,
		now:     time.Now,
	}
}

// Issue signs a link for owner's handout of experimentID and returns the
// absolute URL.
func (s *ShareService) Issue(experimentID, owner string) (string, ShareLink) {
	link := ShareLink{
		ExperimentID: experimentID,
		Owner:        owner,
		ExpiresAt:    s.now().Add(s.ttl).Unix(),
	}
	link.Signature = s.sign(link)
	return s.baseURL + link.Path() + "?" + link.Query().Encode(), link
}

// Verify checks expiry before the signature, so an expired link reports
// ErrLinkExpired even when it was tampered with.
func (s *ShareService) Verify(link ShareLink) error {
	if link.ExpiresAt < s.now().Unix() {
		return ErrLinkExpired
	}
	if !hmac.Equal([]byte(link.Signature), []byte(s.sign(link))) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *ShareService) sign(link ShareLink) string {
	h := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(h, "%s\n%s\n%d", link.ExperimentID, link.Owner, link.ExpiresAt)
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
