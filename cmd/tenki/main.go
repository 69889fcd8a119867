package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	_ "modernc.org/sqlite"
)

type CLI struct {
	Globals

	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,help='Path to a .env file with TENKI_* settings.'"`

	BuildHistory BuildHistoryCmd `cmd:"" help:"Fetch a date range from the JMA portal into the database."`
	ImportCSV    ImportCSVCmd    `cmd:"" name:"import-csv" help:"Load a history CSV into the database."`
	ExportCSV    ExportCSVCmd    `cmd:"" name:"export-csv" help:"Write the stored history as CSV."`
	Train        TrainCmd        `cmd:"" help:"Train the max and min models for a month."`
	Forecast     ForecastCmd     `cmd:"" help:"Forecast today and tomorrow for the primary station."`
	Serve        ServeCmd        `cmd:"" help:"Serve the dashboard and run the daily jobs."`
	Archive      ArchiveCmd      `cmd:"" help:"Upload the history CSV to an FTP server."`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("tenki"),
		kong.Description("Next-day temperature forecasts from JMA station history."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	if err := kctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "tenki: %v\n", err)
		os.Exit(1)
	}
}
