package mapasset

import (
	"context"
	"fmt"
	"path"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"fleetmap/core-go/internal/fetch"
)

const (
	defaultCacheSize      = 10
	defaultLoadTimeout    = 30 * time.Second
	defaultChunkThreshold = 1 << 20
)

// Descriptor identifies a map asset: the metadata document reference. The
// raster reference comes from inside the document, resolved relative to it.
type Descriptor struct {
	MetadataRef string `json:"metadata_ref"`
}

// Key is the cache/de-duplication key for a descriptor.
func (d Descriptor) Key() string {
	return d.MetadataRef
}

// LoadOptions enumerates the knobs a load call accepts.
//
// CacheEnabled commits the result to the LRU cache and serves repeat hits
// from it. Quality 1..100 downsamples large rasters (100 = full resolution).
// Chunked forces the cooperative chunked decode path even for small rasters;
// rasters over ChunkThreshold bytes take it regardless.
type LoadOptions struct {
	CacheEnabled   bool
	Timeout        time.Duration
	Quality        int
	Chunked        bool
	ChunkThreshold int
}

// DefaultLoadOptions is what registry-driven loads use.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		CacheEnabled:   true,
		Timeout:        defaultLoadTimeout,
		Quality:        100,
		ChunkThreshold: defaultChunkThreshold,
	}
}

// Loader fetches, parses and normalizes map assets. Concurrent loads of the
// same key share one underlying fetch+parse; completed buffers sit in a
// bounded LRU. A failed load is never committed to the cache.
type Loader struct {
	fetcher fetch.Fetcher
	log     zerolog.Logger
	group   singleflight.Group
	cache   *lru.Cache[string, *Buffer]
}

func NewLoader(fetcher fetch.Fetcher, log zerolog.Logger, cacheSize int) (*Loader, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, *Buffer](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Loader{fetcher: fetcher, log: log, cache: cache}, nil
}

// Load resolves a descriptor into a normalized Buffer.
func (l *Loader) Load(ctx context.Context, d Descriptor, opts LoadOptions) (*Buffer, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultLoadTimeout
	}
	if opts.ChunkThreshold <= 0 {
		opts.ChunkThreshold = defaultChunkThreshold
	}

	key := d.Key()
	if opts.CacheEnabled {
		if buf, ok := l.cache.Get(key); ok {
			return buf, nil
		}
	}

	v, err, shared := l.group.Do(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()

		start := time.Now()
		buf, err := l.load(loadCtx, d, opts)
		if err != nil {
			return nil, err
		}
		l.log.Info().
			Str("key", key).
			Int("width", buf.Width).
			Int("height", buf.Height).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("map_asset_loaded")

		if opts.CacheEnabled {
			l.cache.Add(key, buf)
		}
		return buf, nil
	})
	if err != nil {
		// Shared failures were already logged by the executing call.
		if !shared {
			l.log.Error().Err(err).Str("key", key).Msg("map_asset_load_failed")
		}
		return nil, err
	}
	return v.(*Buffer), nil
}

func (l *Loader) load(ctx context.Context, d Descriptor, opts LoadOptions) (*Buffer, error) {
	doc, err := l.fetcher.Fetch(ctx, d.MetadataRef)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata %s: %w", d.MetadataRef, err)
	}
	meta, err := ParseMetadata(doc)
	if err != nil {
		return nil, err
	}

	imageRef := meta.Image
	if dir := path.Dir(d.MetadataRef); dir != "." && !path.IsAbs(imageRef) {
		imageRef = path.Join(dir, imageRef)
	}
	raw, err := l.fetcher.Fetch(ctx, imageRef)
	if err != nil {
		return nil, fmt.Errorf("fetch raster %s: %w", imageRef, err)
	}

	chunked := opts.Chunked || len(raw) > opts.ChunkThreshold
	return decodeRaster(ctx, raw, meta, chunked, sampleFactor(opts.Quality))
}

// Invalidate drops one key from the cache.
func (l *Loader) Invalidate(d Descriptor) {
	l.cache.Remove(d.Key())
}

// Purge empties the cache.
func (l *Loader) Purge() {
	l.cache.Purge()
}

// CacheLen reports the number of cached buffers.
func (l *Loader) CacheLen() int {
	return l.cache.Len()
}
