package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yungbote/medgraph-backend/internal/config"
	"github.com/yungbote/medgraph-backend/internal/data/graph"
	"github.com/yungbote/medgraph-backend/internal/enrich"
	"github.com/yungbote/medgraph-backend/internal/ingest"
	"github.com/yungbote/medgraph-backend/internal/matcher"
	"github.com/yungbote/medgraph-backend/internal/platform/logger"
	"github.com/yungbote/medgraph-backend/internal/platform/neo4jdb"
	"github.com/yungbote/medgraph-backend/internal/platform/openai"
	"github.com/yungbote/medgraph-backend/internal/platform/redisdb"
	"github.com/yungbote/medgraph-backend/internal/platform/umls"
	"github.com/yungbote/medgraph-backend/internal/rag"
	"github.com/yungbote/medgraph-backend/internal/server"
	"github.com/yungbote/medgraph-backend/internal/stats"
)

const usage = `usage: medgraph <command> [flags]

commands:
  import   load a PubMed JSON corpus into the graph
  enrich   link graph nodes to medical concepts
  stats    print graph statistics
  query    answer one medical question
  serve    run the HTTP API
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "medgraph %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string) error {
	cfg := config.Load()

	log, err := logger.New(cfg.Mode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	app, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close(ctx)

	switch command {
	case "import":
		return app.runImport(ctx, args)
	case "enrich":
		return app.runEnrich(ctx, args)
	case "stats":
		return app.runStats(ctx)
	case "query":
		return app.runQuery(ctx, args)
	case "serve":
		return app.runServe(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

type app struct {
	cfg      config.Config
	log      *logger.Logger
	neo      *neo4jdb.Client
	cache    *redisdb.Cache
	store    *graph.Store
	engine   *enrich.Engine
	pipeline *rag.Pipeline
}

func newApp(ctx context.Context, cfg config.Config, log *logger.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	neo, err := neo4jdb.New(ctx, cfg.Neo4j, log)
	if err != nil {
		return nil, err
	}

	store := graph.NewStore(neo, log)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = neo.Close(ctx)
		return nil, err
	}

	cache := redisdb.New(cfg.Redis, log)
	m := matcher.New(cfg.Matcher, log)
	concepts := umls.New(cfg.UMLS, cache, log)
	engine := enrich.NewEngine(m, concepts, store, cfg.Enrich.HierarchyDepth, log)

	generator, err := openai.NewClient(cfg.OpenAI, log)
	if err != nil {
		_ = neo.Close(ctx)
		return nil, err
	}

	assembler := rag.NewAssembler(store, m, concepts, cfg.Search, log)
	pipeline := rag.NewPipeline(assembler, generator, store, engine, cfg.OpenAI.Model, log)

	return &app{
		cfg:      cfg,
		log:      log,
		neo:      neo,
		cache:    cache,
		store:    store,
		engine:   engine,
		pipeline: pipeline,
	}, nil
}

// close releases the graph connection and cache on every exit path.
func (a *app) close(ctx context.Context) {
	if err := a.neo.Close(ctx); err != nil {
		a.log.Warn("graph close failed", "error", err)
	}
	_ = a.cache.Close()
}

func (a *app) runImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	path := fs.String("path", a.cfg.Ingest.CorpusPath, "path to PubMed JSON corpus")
	keep := fs.Bool("keep", false, "keep existing graph data")
	if err := fs.Parse(args); err != nil {
		return err
	}

	importer := ingest.NewImporter(a.store, a.cfg.Ingest, a.log)
	res, err := importer.ImportCorpus(ctx, *path, !*keep)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d papers (%d failed)\n", res.Imported, res.Failed)
	return nil
}

func (a *app) runEnrich(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("enrich", flag.ExitOnError)
	label := fs.String("label", "", "only enrich nodes with this label")
	limit := fs.Int("limit", 0, "maximum nodes to process (0 = all)")
	node := fs.String("node", "", "enrich a single node by uuid")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *node != "" {
		sum, err := a.pipeline.EnrichNode(ctx, *node)
		if err != nil {
			return err
		}
		fmt.Printf("linked %d, skipped %d, failed %d\n", sum.Linked, sum.Skipped, sum.Failed)
		return nil
	}

	var (
		res enrich.SweepResult
		err error
	)
	if *label != "" {
		res, err = a.engine.EnrichNodesByLabel(ctx, *label, *limit)
	} else {
		res, err = a.engine.EnrichAllNodes(ctx, *limit)
	}
	if err != nil {
		return err
	}
	fmt.Printf("enriched %d nodes: linked %d, skipped %d, failed %d, errors %d\n",
		res.Nodes, res.Linked, res.Skipped, res.Failed, res.Errors)
	return nil
}

func (a *app) runStats(ctx context.Context) error {
	rep, err := stats.Collect(ctx, a.store)
	if err != nil {
		return err
	}
	fmt.Println(rep.String())
	return nil
}

func (a *app) runQuery(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	q := fs.String("q", "", "medical question to answer")
	noConcepts := fs.Bool("no-concepts", false, "skip concept annotation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *q == "" {
		return fmt.Errorf("-q is required")
	}

	ans, err := a.pipeline.AnswerQuestion(ctx, *q, rag.BuildOptions{
		IncludeConcepts: !*noConcepts,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Question: %s\n\nAnswer:\n%s\n", ans.Query, ans.Answer)
	fmt.Printf("\nFacts used: %d; entities: %d; terms: %d\n",
		ans.Metadata.NumFacts, ans.Metadata.NumEntities, ans.Metadata.NumConcepts)
	return nil
}

func (a *app) runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", a.cfg.Server.Addr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	router := server.NewRouter(server.RouterConfig{
		Pipeline:    a.pipeline,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		Log:         a.log,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- router.Run(*addr) }()
	a.log.Info("HTTP server listening", "addr", *addr)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}
