package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/lox/tenki/internal/api"
	"github.com/lox/tenki/internal/archive"
	"github.com/lox/tenki/internal/forecast"
	"github.com/lox/tenki/internal/history"
	"github.com/lox/tenki/internal/ingest"
	"github.com/lox/tenki/internal/models"
)

type BuildHistoryCmd struct {
	Start  time.Time `required:"" format:"2006-01-02" help:"First date (YYYY-MM-DD)."`
	End    time.Time `required:"" format:"2006-01-02" help:"Last date (YYYY-MM-DD)."`
	Output string    `short:"o" help:"Also write the built rows to this CSV file."`
}

func (c *BuildHistoryCmd) Run(g *Globals, ctx context.Context) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs := ingest.NewDailyJobs(ingest.DailyConfig{
		Store:    a.store,
		Fetcher:  a.fetcher,
		Registry: a.reg,
		Location: a.loc,
		Delay:    g.Delay,
		Logger:   a.logger,
	})
	stats, err := jobs.BuildRange(ctx, c.Start, c.End)
	a.logger.Info("tenki: history built",
		"visited", stats.DatesVisited, "rows", stats.RowsBuilt, "skipped", stats.DatesSkipped, "requests", stats.Requests)
	if err != nil {
		return err
	}

	if c.Output == "" {
		return nil
	}
	tbl, err := a.store.LoadRange(ctx, a.reg, c.Start, c.End)
	if err != nil {
		return err
	}
	return writeCSVFile(c.Output, tbl, a)
}

type ImportCSVCmd struct {
	File string `arg:"" type:"existingfile" help:"CSV file to import."`
}

func (c *ImportCSVCmd) Run(g *Globals, ctx context.Context) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := os.Open(c.File)
	if err != nil {
		return err
	}
	defer f.Close()

	tbl, err := history.ReadCSV(f, a.reg)
	if err != nil {
		return fmt.Errorf("read %s: %w", c.File, err)
	}
	n, err := a.store.SaveTable(ctx, tbl)
	if err != nil {
		return err
	}
	if last, ok := tbl.Last(); ok {
		a.logger.Info("tenki: imported history", "file", c.File, "rows", n,
			"through", last.Date.Format(models.DateLayout))
		return nil
	}
	a.logger.Info("tenki: imported history", "file", c.File, "rows", n)
	return nil
}

type ExportCSVCmd struct {
	File string `arg:"" optional:"" default:"-" help:"Destination file, - for stdout."`
}

func (c *ExportCSVCmd) Run(g *Globals, ctx context.Context) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	tbl, err := a.store.LoadHistory(ctx, a.reg)
	if err != nil {
		return err
	}
	if c.File == "-" {
		return history.WriteCSV(os.Stdout, tbl, a.reg)
	}
	return writeCSVFile(c.File, tbl, a)
}

func writeCSVFile(path string, tbl history.Table, a *app) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := history.WriteCSV(f, tbl, a.reg); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	a.logger.Info("tenki: wrote history", "file", path, "rows", tbl.Len())
	return f.Close()
}

type TrainCmd struct {
	Month int `help:"Month to weight training for (1-12); defaults to the current month."`
}

func (c *TrainCmd) Run(g *Globals, ctx context.Context) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.service(g)
	if err != nil {
		return err
	}
	month := svc.Today().Month()
	if c.Month != 0 {
		if c.Month < 1 || c.Month > 12 {
			return fmt.Errorf("month %d out of range", c.Month)
		}
		month = time.Month(c.Month)
	}
	return svc.Train(ctx, month)
}

type ForecastCmd struct{}

func (c *ForecastCmd) Run(g *Globals, ctx context.Context) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.service(g)
	if err != nil {
		return err
	}
	res, err := svc.Run(ctx)
	if err != nil {
		return err
	}
	return printResult(os.Stdout, res, a.reg.Primary())
}

func printResult(w io.Writer, res *forecast.Result, station string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Station\t%s\n\n", station)
	fmt.Fprintln(tw, "Date\tMax\tMin\t")
	for _, snap := range res.Recent {
		obs := snap.Stations[station]
		fmt.Fprintf(tw, "%s\t%.1f\t%.1f\t\n", snap.Date.Format(models.DateLayout), obs.TempMax, obs.TempMin)
	}
	p := res.Prediction
	fmt.Fprintf(tw, "%s\t%.1f\t%.1f\ttoday\n", p.Today.Format(models.DateLayout), p.TodayMax, p.TodayMin)
	fmt.Fprintf(tw, "%s\t%.1f\t%.1f\ttomorrow\n", p.Tomorrow.Format(models.DateLayout), p.TomorrowMax, p.TomorrowMin)
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%s\n", p.Commentary)
	if res.Run.Narrative.Valid {
		fmt.Fprintf(w, "\n%s\n", res.Run.Narrative.String)
	}
	return nil
}

type ServeCmd struct {
	Addr       string `default:":8080" env:"TENKI_ADDR" help:"HTTP listen address."`
	DailyAt    string `default:"06:00" env:"TENKI_DAILY_AT" help:"Local time of the daily jobs."`
	NoSchedule bool   `env:"TENKI_NO_SCHEDULE" help:"Disable the daily jobs (server only, for local dev)."`
	AutoRun    bool   `default:"true" negatable:"" env:"TENKI_AUTO_FORECAST" help:"Issue a forecast after the daily jobs."`
}

func (c *ServeCmd) Run(g *Globals, ctx context.Context) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.service(g)
	if err != nil {
		return err
	}

	if !c.NoSchedule {
		cfg := ingest.SchedulerConfig{
			Daily: ingest.NewDailyJobs(ingest.DailyConfig{
				Store:    a.store,
				Fetcher:  a.fetcher,
				Registry: a.reg,
				Location: a.loc,
				Delay:    g.Delay,
				Logger:   a.logger,
			}),
			Location: a.loc,
			At:       c.DailyAt,
			Logger:   a.logger,
		}
		if c.AutoRun {
			cfg.Forecaster = svc
		}
		scheduler := ingest.NewScheduler(cfg)
		go func() {
			if err := scheduler.Run(ctx); err != nil {
				a.logger.Error("tenki: scheduler stopped", "error", err)
			}
		}()
	} else {
		a.logger.Info("tenki: daily jobs disabled")
	}

	server := api.NewServer(api.Config{
		Store:      a.store,
		Forecaster: svc,
		Registry:   a.reg,
		Addr:       c.Addr,
		Location:   a.loc,
		Logger:     a.logger,
	})
	return server.Run(ctx)
}

type ArchiveCmd struct {
	Addr     string        `required:"" env:"TENKI_FTP_ADDR" help:"FTP server host:port."`
	User     string        `env:"TENKI_FTP_USER" help:"FTP user; anonymous when empty."`
	Password string        `env:"TENKI_FTP_PASSWORD" help:"FTP password."`
	Dir      string        `default:"tenki" env:"TENKI_FTP_DIR" help:"Remote directory, created if missing."`
	Timeout  time.Duration `default:"30s" env:"TENKI_FTP_TIMEOUT" help:"Dial timeout."`
}

func (c *ArchiveCmd) Run(g *Globals, ctx context.Context) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	up, err := archive.New(archive.Config{
		Addr:     c.Addr,
		User:     c.User,
		Password: c.Password,
		Dir:      c.Dir,
		Timeout:  c.Timeout,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}

	tbl, err := a.store.LoadHistory(ctx, a.reg)
	if err != nil {
		return err
	}
	name, err := up.UploadTable(ctx, tbl, a.reg, time.Now().In(a.loc))
	if err != nil {
		return err
	}
	a.logger.Info("tenki: archived history", "file", name, "rows", tbl.Len())
	return nil
}
