package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/alapierre/go-irp-client/irp"
	"github.com/alapierre/go-irp-client/irp/audit"
	"github.com/alapierre/go-irp-client/irp/audit/postgres"
	"github.com/alapierre/go-irp-client/irp/irn"
	"github.com/alapierre/go-irp-client/irp/metrics"
	"github.com/alapierre/go-irp-client/irp/model"
	"github.com/alapierre/go-irp-client/irp/registration"
	"github.com/alapierre/go-irp-client/irp/util"
	"github.com/alapierre/go-irp-client/irp/validation"
	"github.com/alapierre/go-irp-client/png"
	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var logger = logrus.WithField("component", "irp.cli")

var flags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "YAML configuration file; IRP_* environment variables override it",
		EnvVars: []string{"IRP_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "audit-dsn",
		Usage:   "PostgreSQL DSN for the audit log; entries are only logged when empty",
		EnvVars: []string{"IRP_AUDIT_DSN"},
	},
	&cli.BoolFlag{
		Name:  "log-json",
		Usage: "log in JSON format",
	},
	&cli.BoolFlag{
		Name:  "debug",
		Usage: "log debug messages (same as IRP_DEBUG=true)",
	},
}

func main() {
	app := &cli.App{
		Name:  "irp",
		Usage: "register e-invoices with the Invoice Registration Portal",
		Flags: flags,
		Before: func(cCtx *cli.Context) error {
			if cCtx.Bool("log-json") {
				logrus.SetFormatter(&logrus.JSONFormatter{})
			}
			if cCtx.Bool("debug") || util.DebugEnabled() {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "validate a document locally without contacting the Registry",
				ArgsUsage: "<document.json>",
				Action:    validateCmd,
			},
			{
				Name:      "irn",
				Usage:     "print the IRN computed for a document",
				ArgsUsage: "<document.json>",
				Action:    irnCmd,
			},
			{
				Name:      "generate",
				Usage:     "register a document",
				ArgsUsage: "<document.json>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "qr", Usage: "write the verification QR code as PNG to this file"},
				},
				Action: generateCmd,
			},
			{
				Name:      "bulk",
				Usage:     "register every *.json document in a directory",
				ArgsUsage: "<directory>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "max-batch", Value: registration.DefaultMaxBatchSize, Usage: "largest accepted batch"},
					&cli.IntFlag{Name: "concurrency", Value: registration.DefaultMaxConcurrency, Usage: "documents sent at once"},
				},
				Action: bulkCmd,
			},
			{
				Name:  "cancel",
				Usage: "cancel a registration",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "irn", Required: true},
					&cli.StringFlag{Name: "reason", Value: string(registration.ReasonOther), Usage: "1 duplicate, 2 data entry mistake, 3 order cancelled, 4 other"},
					&cli.StringFlag{Name: "remarks", Usage: "up to 100 characters"},
				},
				Action: cancelCmd,
			},
			{
				Name:  "can-cancel",
				Usage: "check whether a registration is still inside the cancel window",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "irn", Required: true},
				},
				Action: canCancelCmd,
			},
			{
				Name:  "get",
				Usage: "fetch a registration by IRN or by document type, number and date",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "irn"},
					&cli.StringFlag{Name: "doc-type", Value: model.DocInvoice},
					&cli.StringFlag{Name: "doc-number"},
					&cli.StringFlag{Name: "doc-date", Usage: "dd/mm/yyyy"},
				},
				Action: getCmd,
			},
			{
				Name:  "health",
				Usage: "print authentication state, quota counters and masked configuration",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "auth", Usage: "authenticate before reporting"},
					&cli.StringFlag{Name: "listen", Usage: "serve /health and /metrics on this address instead of printing"},
				},
				Action: healthCmd,
			},
			{
				Name:   "audit-schema",
				Usage:  "create the audit table in PostgreSQL",
				Action: auditSchemaCmd,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Fatal(err)
	}
}

// wiring bundles everything a command needs.
type wiring struct {
	registry *prometheus.Registry
	client   *irp.Client
	service  *registration.Service
	closers  []func() error
}

func setup(cCtx *cli.Context, opts ...registration.Option) (*wiring, error) {
	cfg, err := loadConfig(cCtx)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	client, err := irp.NewClient(cfg, irp.WithMetrics(m))
	if err != nil {
		return nil, err
	}

	a := &wiring{registry: reg, client: client}

	var sink audit.Sink = audit.NewLogSink(nil)
	if dsn := cCtx.String("audit-dsn"); dsn != "" {
		db, err := postgres.Open(cCtx.Context, dsn)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		sink = audit.Multi{sink, postgres.New(db)}
	}

	base := []registration.Option{registration.WithAuditSink(sink), registration.WithMetrics(m)}
	a.service = registration.NewService(client, append(base, opts...)...)
	return a, nil
}

func (a *wiring) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			logger.Warnf("close: %v", err)
		}
	}
}

func loadConfig(cCtx *cli.Context) (irp.Config, error) {
	if path := cCtx.String("config"); path != "" {
		return irp.LoadConfigFile(path)
	}
	return irp.ConfigFromEnv()
}

func readDocument(path string) (*model.Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	var doc model.Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return &doc, nil
}

func documentArg(cCtx *cli.Context) (*model.Document, error) {
	if cCtx.NArg() != 1 {
		return nil, errors.New("expected exactly one document file")
	}
	return readDocument(cCtx.Args().First())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func validateCmd(cCtx *cli.Context) error {
	doc, err := documentArg(cCtx)
	if err != nil {
		return err
	}
	res := validation.Validate(doc)
	if err := printJSON(res); err != nil {
		return err
	}
	if !res.Valid {
		return cli.Exit("document is invalid", 2)
	}
	return nil
}

func irnCmd(cCtx *cli.Context) error {
	doc, err := documentArg(cCtx)
	if err != nil {
		return err
	}
	fmt.Println(irn.ForDocument(doc))
	return nil
}

func generateCmd(cCtx *cli.Context) error {
	doc, err := documentArg(cCtx)
	if err != nil {
		return err
	}
	a, err := setup(cCtx)
	if err != nil {
		return err
	}
	defer a.Close()

	reg, err := a.service.GenerateRegistration(cCtx.Context, doc)
	if err != nil {
		return err
	}

	if out := cCtx.String("qr"); out != "" {
		p, err := a.service.GenerateQrPayload(&reg.RegistrationRecord, doc)
		if err != nil {
			return err
		}
		img, err := png.Payload(p, 0)
		if err != nil {
			return errors.Wrap(err, "render qr")
		}
		if err := os.WriteFile(out, img, 0o644); err != nil {
			return errors.Wrap(err, "write qr")
		}
		logger.Infof("qr code written to %s", out)
	}
	return printJSON(reg)
}

type bulkLine struct {
	Index    int    `json:"index"`
	File     string `json:"file"`
	Document string `json:"document"`
	IRN      string `json:"irn,omitempty"`
	AckNo    int64  `json:"ackNo,omitempty"`
	Error    string `json:"error,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

func bulkCmd(cCtx *cli.Context) error {
	if cCtx.NArg() != 1 {
		return errors.New("expected a directory")
	}
	files, err := filepath.Glob(filepath.Join(cCtx.Args().First(), "*.json"))
	if err != nil {
		return err
	}
	sort.Strings(files)

	docs := make([]*model.Document, len(files))
	for i, f := range files {
		if docs[i], err = readDocument(f); err != nil {
			return err
		}
	}

	a, err := setup(cCtx,
		registration.WithMaxBatchSize(cCtx.Int("max-batch")),
		registration.WithMaxConcurrency(cCtx.Int("concurrency")))
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.service.GenerateBulk(cCtx.Context, docs)
	if err != nil {
		return err
	}

	lines := make([]bulkLine, len(results))
	failed := 0
	for i, r := range results {
		lines[i] = bulkLine{Index: r.Index, File: filepath.Base(files[i]), Document: r.DocumentNumber}
		if r.Err != nil {
			failed++
			lines[i].Error = r.Err.Error()
			lines[i].Kind = string(irp.KindOf(r.Err))
			continue
		}
		lines[i].IRN = r.Registration.IRN
		lines[i].AckNo = r.Registration.AckNo
	}
	if err := printJSON(lines); err != nil {
		return err
	}
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d documents failed", failed, len(results)), 1)
	}
	return nil
}

func cancelCmd(cCtx *cli.Context) error {
	a, err := setup(cCtx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.service.CancelRegistration(cCtx.Context, cCtx.String("irn"),
		registration.CancelReason(cCtx.String("reason")), cCtx.String("remarks"))
	if err != nil {
		return err
	}
	return printJSON(res)
}

func canCancelCmd(cCtx *cli.Context) error {
	a, err := setup(cCtx)
	if err != nil {
		return err
	}
	defer a.Close()

	ok, err := a.service.CanCancel(cCtx.Context, cCtx.String("irn"))
	if err != nil {
		return err
	}
	return printJSON(map[string]bool{"canCancel": ok})
}

func getCmd(cCtx *cli.Context) error {
	a, err := setup(cCtx)
	if err != nil {
		return err
	}
	defer a.Close()

	var rec *model.RegistrationRecord
	if id := cCtx.String("irn"); id != "" {
		rec, err = a.service.GetRegistrationByIRN(cCtx.Context, id)
	} else {
		rec, err = a.service.GetRegistrationByDocument(cCtx.Context,
			cCtx.String("doc-type"), cCtx.String("doc-number"), cCtx.String("doc-date"))
	}
	if err != nil {
		return err
	}
	return printJSON(rec)
}

func healthCmd(cCtx *cli.Context) error {
	a, err := setup(cCtx)
	if err != nil {
		return err
	}
	defer a.Close()

	if cCtx.Bool("auth") {
		if _, err := a.client.Tokens().Token(cCtx.Context); err != nil {
			return err
		}
	}

	addr := cCtx.String("listen")
	if addr == "" {
		return printJSON(a.client.Health())
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(a.client.Health())
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-cCtx.Context.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	logger.Infof("serving /health and /metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func auditSchemaCmd(cCtx *cli.Context) error {
	dsn := cCtx.String("audit-dsn")
	if dsn == "" {
		dsn = util.GetEnvOrFailed("IRP_AUDIT_DSN")
	}
	db, err := postgres.Open(cCtx.Context, dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := postgres.New(db).EnsureSchema(cCtx.Context); err != nil {
		return err
	}
	logger.Info("audit schema is ready")
	return nil
}
