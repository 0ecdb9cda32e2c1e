// Package archive stores the body of each newly confirmed page and announces
// the discovery to downstream consumers.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
	"github.com/JakeFAU/competition-discovery/internal/keyspace"
)

// Notice is published once per key that becomes ConfirmedExists.
type Notice struct {
	Key           string `json:"key"`
	SessionID     string `json:"session_id"`
	MatchCount    int    `json:"match_count"`
	DisplayName   string `json:"display_name,omitempty"`
	SnapshotURI   string `json:"snapshot_uri,omitempty"`
	ContentSHA256 string `json:"content_sha256,omitempty"`
}

// Attributes exposes routing fields as message attributes.
func (n Notice) Attributes() map[string]string {
	return map[string]string{"key": n.Key, "session_id": n.SessionID}
}

// Config controls where snapshots go and where notices are published.
type Config struct {
	Prefix string
	// Topic disables publishing when empty.
	Topic string
	// ContentType is used when the probe response carried none.
	ContentType string
}

// Archiver implements the scheduler's confirmed hook. Either of store or
// publisher may be nil.
type Archiver struct {
	cfg       Config
	store     discovery.Archive
	hasher    discovery.Hasher
	publisher discovery.Publisher
	logger    *zap.Logger
}

// New returns an Archiver. A nil hasher means SHA256.
func New(cfg Config, store discovery.Archive, hasher discovery.Hasher, publisher discovery.Publisher, logger *zap.Logger) (*Archiver, error) {
	if store == nil && publisher == nil {
		return nil, errors.New("an archive store or a publisher is required")
	}
	if hasher == nil {
		hasher = SHA256{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{cfg: cfg, store: store, hasher: hasher, publisher: publisher, logger: logger.Named("archive")}, nil
}

// ObjectPath returns prefix/season/district/competition/sub.html.
func ObjectPath(prefix string, key keyspace.CandidateKey) string {
	return path.Join(prefix, strconv.Itoa(key.SeasonYear), key.District,
		strconv.Itoa(key.CompetitionID), key.SubEndpoint+".html")
}

// OnConfirmed writes the snapshot and publishes the notice. Both steps are
// attempted; their errors are joined.
func (a *Archiver) OnConfirmed(ctx context.Context, entry discovery.CacheEntry, res discovery.ProbeResult) error {
	notice := Notice{
		Key:         entry.Key.String(),
		SessionID:   entry.SessionID,
		MatchCount:  entry.MatchCount,
		DisplayName: entry.DisplayName,
	}

	var errs []error
	if len(res.Body) > 0 {
		sum, err := a.hasher.Hash(res.Body)
		if err != nil {
			errs = append(errs, fmt.Errorf("hash %s: %w", notice.Key, err))
		}
		notice.ContentSHA256 = sum
	}
	if a.store != nil && len(res.Body) > 0 {
		contentType := res.ContentType
		if contentType == "" {
			contentType = a.cfg.ContentType
		}
		if contentType == "" {
			contentType = "text/html; charset=utf-8"
		}
		uri, err := a.store.PutObject(ctx, ObjectPath(a.cfg.Prefix, entry.Key), contentType, bytes.NewReader(res.Body))
		if err != nil {
			errs = append(errs, fmt.Errorf("store snapshot %s: %w", notice.Key, err))
		} else {
			notice.SnapshotURI = uri
			a.logger.Debug("snapshot stored", zap.String("key", notice.Key), zap.String("uri", uri))
		}
	}
	if a.publisher != nil && a.cfg.Topic != "" {
		id, err := a.publisher.Publish(ctx, a.cfg.Topic, notice)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", notice.Key, err))
		} else {
			a.logger.Debug("discovery published", zap.String("key", notice.Key), zap.String("message_id", id))
		}
	}
	return errors.Join(errs...)
}
