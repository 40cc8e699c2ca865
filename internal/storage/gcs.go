package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	json "github.com/goccy/go-json"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"streamwatch/internal/monitor"
	logx "streamwatch/pkg/logx"
)

// gcsStore keeps one JSON object per channel. Writes are guarded by
// generation preconditions and retried as a whole read-modify-write when
// another writer got there first.
type gcsStore struct {
	client *gcs.Client
	bucket string
	prefix string
	log    logx.Logger
}

func openGCS(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("storage.bucket is required for gcs driver")
	}
	var opts []option.ClientOption
	if ep := strings.TrimSpace(cfg.Endpoint); ep != "" {
		// Emulators speak the JSON API only and take no credentials.
		opts = append(opts, option.WithEndpoint(ep), option.WithoutAuthentication(), gcs.WithJSONReads())
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	prefix := strings.Trim(strings.TrimSpace(cfg.Prefix), "/")
	log.Debug("gcs store ready", logx.String("bucket", bucket), logx.String("prefix", prefix))
	return &gcsStore{client: client, bucket: bucket, prefix: prefix, log: log}, nil
}

func (s *gcsStore) Close() error { return s.client.Close() }

func (s *gcsStore) key(channelID string) string {
	return path.Join(s.prefix, "channels", channelID+".json")
}

// read returns the document and its generation; ErrNotFound when absent.
func (s *gcsStore) read(ctx context.Context, channelID string) (*channelDoc, int64, error) {
	var doc channelDoc
	var gen int64
	err := retry.Do(
		func() error {
			r, err := s.client.Bucket(s.bucket).Object(s.key(channelID)).NewReader(ctx)
			if err != nil {
				if errors.Is(err, gcs.ErrObjectNotExist) {
					return retry.Unrecoverable(ErrNotFound)
				}
				return fmt.Errorf("open storage reader: %w", err)
			}
			defer func() {
				if err := r.Close(); err != nil {
					s.log.Warn("close storage reader failed", logx.Err(err))
				}
			}()
			b, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("read from storage: %w", err)
			}
			if err := json.Unmarshal(b, &doc); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode %s: %w", channelID, err))
			}
			gen = r.Attrs.Generation
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.log.Info("retrying storage read", logx.Int("attempt", int(n)), logx.String("channel", channelID), logx.Err(err))
		}),
	)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}
	return &doc, gen, nil
}

// write stores doc only if the object is still at generation gen (0 = must not exist).
func (s *gcsStore) write(ctx context.Context, doc *channelDoc, gen int64) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	obj := s.client.Bucket(s.bucket).Object(s.key(doc.ID))
	if gen == 0 {
		obj = obj.If(gcs.Conditions{DoesNotExist: true})
	} else {
		obj = obj.If(gcs.Conditions{GenerationMatch: gen})
	}
	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(b); err != nil {
		_ = w.Close()
		return fmt.Errorf("write to storage: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close storage writer: %w", err)
	}
	return nil
}

// update runs a read-modify-write, retrying on precondition conflicts.
// mutate returns false to skip the write.
func (s *gcsStore) update(ctx context.Context, channelID string, create bool, mutate func(d *channelDoc) (bool, error)) error {
	return retry.Do(
		func() error {
			doc, gen, err := s.read(ctx, channelID)
			if errors.Is(err, ErrNotFound) && create {
				doc, gen, err = &channelDoc{ID: channelID}, 0, nil
			}
			if err != nil {
				return retry.Unrecoverable(err)
			}
			changed, err := mutate(doc)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if !changed {
				return nil
			}
			return s.write(ctx, doc, gen)
		},
		retry.Attempts(5),
		retry.Delay(200*time.Millisecond),
		retry.MaxJitter(200*time.Millisecond),
		retry.Context(ctx),
		retry.RetryIf(isPreconditionFailed),
		retry.OnRetry(func(n uint, err error) {
			s.log.Info("storage write conflict; retrying", logx.Int("attempt", int(n)), logx.String("channel", channelID), logx.Err(err))
		}),
	)
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

func (s *gcsStore) Load(ctx context.Context, channelID string) (*monitor.MonitoredChannel, error) {
	doc, _, err := s.read(ctx, channelID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.toChannel(), nil
}

func (s *gcsStore) Commit(ctx context.Context, ch *monitor.MonitoredChannel) error {
	var assigned []monitor.ActivitySegment
	err := s.update(ctx, ch.ID, false, func(d *channelDoc) (bool, error) {
		// Work on a copy so a conflicting attempt never leaks ids into ch.
		work := *ch
		work.Segments = append([]monitor.ActivitySegment(nil), ch.Segments...)
		d.apply(&work)
		assigned = work.Segments
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("channel %s: %w", ch.ID, ErrNotFound)
		}
		return err
	}
	ch.Segments = assigned
	return nil
}

func (s *gcsStore) UpsertChannel(ctx context.Context, info ChannelInfo) error {
	return s.update(ctx, info.ID, true, func(d *channelDoc) (bool, error) {
		if d.DisplayName == info.DisplayName && d.Timezone == info.Timezone && d.NextSegmentID != 0 {
			return false, nil
		}
		d.DisplayName = info.DisplayName
		d.Timezone = info.Timezone
		return true, nil
	})
}

func (s *gcsStore) AddSubscription(ctx context.Context, channelID string, destinationID int64, threadID int) error {
	err := s.update(ctx, channelID, false, func(d *channelDoc) (bool, error) {
		return d.addSubscription(destinationID, threadID), nil
	})
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	return err
}

func (s *gcsStore) RemoveSubscription(ctx context.Context, channelID string, key monitor.SubscriptionKey) error {
	return s.update(ctx, channelID, false, func(d *channelDoc) (bool, error) {
		if !d.removeSubscription(key) {
			return false, ErrNotFound
		}
		return true, nil
	})
}

func (s *gcsStore) ListChannels(ctx context.Context) ([]ChannelInfo, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: path.Join(s.prefix, "channels") + "/"})
	var out []ChannelInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		id := strings.TrimSuffix(path.Base(attrs.Name), ".json")
		doc, _, err := s.read(ctx, id)
		if err != nil {
			s.log.Warn("failed to load channel", logx.String("key", attrs.Name), logx.Err(err))
			continue
		}
		out = append(out, ChannelInfo{ID: doc.ID, DisplayName: doc.DisplayName, Timezone: doc.Timezone})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
