package main

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"isoterrain/internal/config"
	"isoterrain/internal/container"
	"isoterrain/internal/dispatch"
	"isoterrain/internal/metrics"
	"isoterrain/internal/network"
	"isoterrain/internal/render"
	"isoterrain/internal/storage"
	"isoterrain/internal/terrain"
	"isoterrain/internal/voxel"
)

type options struct {
	script    string
	save      bool
	hold      bool
	replicate string // publisher address; empty runs as the authority
}

func drainTimeout(cfg *config.Config) time.Duration {
	if t := cfg.Workers.DrainTimeout.Duration(); t > 0 {
		return t
	}
	return 10 * time.Second
}

func tileIndex(t config.TileIndex) voxel.Vec3i {
	return voxel.Vec3i{X: t.X, Y: t.Y, Z: t.Z}
}

// run builds the pipeline described by cfg, applies the startup script and serves until ctx is
// done, or until the script has run when opts.hold is unset.
func run(ctx context.Context, cfg *config.Config, opts options, logger *zap.SugaredLogger) (err error) {
	var script *Script
	if opts.script != "" {
		if script, err = loadScript(opts.script); err != nil {
			return err
		}
	}

	d := dispatch.New(cfg.Workers.Count, logger.Named("dispatch"))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), drainTimeout(cfg))
		defer cancel()
		err = multierr.Append(err, d.Close(closeCtx))
	}()

	bounds := voxel.Box{Min: tileIndex(cfg.Container.Min), Max: tileIndex(cfg.Container.Max)}
	c := container.New(d, cfg.Tile.Size, bounds, logger.Named("container"))
	rec := render.NewRecorder()
	tr := terrain.New(cfg.Terrain, c, rec, d, logger.Named("terrain"))

	provider, err := storage.New(cfg.Storage.Provider, cfg.Storage.Path)
	if err != nil {
		return err
	}
	store, err := provider.Open(cfg.Storage.World)
	if err != nil {
		return errors.Wrapf(err, "open world %q", cfg.Storage.World)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(store))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.Network.ListenUDP != "" {
		transport, listenErr := network.Listen(cfg.Network.ListenUDP, logger.Named("network"), cfg.Network.MaxDatagramSizeBytes)
		if listenErr != nil {
			return listenErr
		}
		defer multierr.AppendInvoke(&err, multierr.Close(transport))
		keepAlive := cfg.Network.KeepAliveInterval.Duration()
		if opts.replicate == "" {
			pub := network.NewPublisher(d, c, transport, 3*keepAlive, logger.Named("publisher"))
			pub.Attach(transport)
			g.Go(func() error { return pub.Run(gctx) })
		} else {
			network.NewReplica(c, logger.Named("replica")).Attach(transport)
			hello := network.Hello{
				ReceiverID: uuid.New(),
				Listen:     transport.Addr(),
				Radius:     cfg.Network.InterestRadius,
			}
			if script != nil && len(script.Cameras) > 0 {
				p := script.Cameras[0].Position()
				hello.X, hello.Y, hello.Z = p.X, p.Y, p.Z
			}
			g.Go(func() error { return network.Announce(gctx, transport, opts.replicate, hello, keepAlive) })
		}
		g.Go(func() error { return transport.Serve(gctx) })
		logger.Infow("network ready", "listen", transport.Addr(), "replicate", opts.replicate)
	}

	if opts.replicate == "" {
		if _, ok, err := store.LoadMeta(); err != nil {
			return errors.Wrap(err, "inspect world")
		} else if ok {
			if err := c.Load(store); err != nil {
				return errors.Wrapf(err, "load world %q", cfg.Storage.World)
			}
			logger.Infow("loading world", "world", cfg.Storage.World, "provider", cfg.Storage.Provider)
		}
	}

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "serve metrics")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-tr.Queue().Ready():
				tr.Queue().Drain()
			}
		}
	})

	g.Go(func() error {
		if script != nil {
			if err := apply(gctx, tr, script, logger); err != nil {
				return err
			}
		}
		if err := tr.Flush(gctx); err != nil {
			return err
		}
		logStats(gctx, tr, logger)
		if !opts.hold {
			stop()
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), drainTimeout(cfg))
	defer cancel()
	if opts.save {
		if err := tr.Flush(closeCtx); err != nil {
			return errors.Wrap(err, "drain before save")
		}
		if err := c.Save(closeCtx, store); err != nil {
			return errors.Wrapf(err, "save world %q", cfg.Storage.World)
		}
		logger.Infow("world saved", "world", cfg.Storage.World, "provider", cfg.Storage.Provider)
	}
	if err := tr.Close(closeCtx); err != nil {
		return errors.Wrap(err, "close terrain")
	}
	tr.Queue().Drain()
	return nil
}

func apply(ctx context.Context, tr *terrain.Terrain, script *Script, logger *zap.SugaredLogger) error {
	reqs, err := script.Requests()
	if err != nil {
		return err
	}
	for _, cam := range script.Cameras {
		tr.AddCamera(cam.ID(), cam.Position())
	}
	start := time.Now()
	for _, req := range reqs {
		tr.Container().Edit(req)
	}
	if err := tr.Flush(ctx); err != nil {
		return err
	}
	logger.Infow("script applied", "edits", len(reqs), "cameras", len(script.Cameras), "elapsed", time.Since(start))
	return nil
}

func logStats(ctx context.Context, tr *terrain.Terrain, logger *zap.SugaredLogger) {
	stats, err := tr.Stats(ctx)
	if err != nil {
		return
	}
	for _, s := range stats {
		logger.Infow("level", "lod", s.Lod, "sampleTiles", s.Samples, "surfaces", s.Surfaces, "triangles", s.Triangles, "visible", s.Visible)
	}
}
