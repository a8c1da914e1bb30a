// Command discover queries the Octopus Energy API the same way the service
// does, without starting it.
//
// Usage:
//
//	discover regions
//	discover product
//	discover validate --region C
//	discover rates --region C --day tomorrow
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/angas/agile-export/integration"
	"github.com/angas/agile-export/logging"
	"github.com/angas/agile-export/octopus"
	"github.com/angas/agile-export/rates"
	"github.com/angas/agile-export/slots"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "discover",
		Usage:   "Inspect Octopus Energy export products and Agile rates",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "base-url",
				Value:   octopus.DefaultBaseURL,
				Usage:   "Octopus Energy API root",
				EnvVars: []string{"OCTOPUS_BASE_URL"},
			},
			&cli.StringFlag{
				Name:    "timezone",
				Value:   "Europe/London",
				Usage:   "Timezone of the day views",
				EnvVars: []string{"GUI_TIMEZONE"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "warn",
				Usage: "Log level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			level := c.String("log-level")
			slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
				Level:      logging.LevelFromString(&level),
				TimeFormat: time.Kitchen,
			})))
			return nil
		},
		Commands: []*cli.Command{
			regionsCommand(),
			productCommand(),
			validateCommand(),
			ratesCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(c *cli.Context) *octopus.Client {
	return octopus.New(&http.Client{}, c.String("base-url"))
}

var regionFlag = &cli.StringFlag{
	Name:     "region",
	Aliases:  []string{"r"},
	Usage:    "DNO region letter (A-P)",
	Required: true,
}

func regionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "regions",
		Usage: "List the supported regions",
		Action: func(c *cli.Context) error {
			for _, r := range octopus.Regions() {
				fmt.Println(r.Label())
			}
			return nil
		},
	}
}

func productCommand() *cli.Command {
	return &cli.Command{
		Name:  "product",
		Usage: "Discover the export product and its tariff code for every region",
		Action: func(c *cli.Context) error {
			client := newClient(c)
			defer client.Close()

			product, err := client.DiscoverExportProduct(c.Context)
			if err != nil {
				return err
			}
			fmt.Printf("Product: %s (%s)\n", product.Code, product.DisplayName)
			for _, r := range octopus.Regions() {
				fmt.Printf("  %-32s %s\n", r.Label(), product.TariffCodes[r])
			}
			return nil
		},
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Check that a region can be set up",
		Flags: []cli.Flag{regionFlag},
		Action: func(c *cli.Context) error {
			client := newClient(c)
			defer client.Close()

			tariff, err := integration.ValidateInput(c.Context, client, c.String("region"))
			if err != nil {
				return err
			}
			fmt.Printf("OK: %s\n", tariff)
			return nil
		},
	}
}

func ratesCommand() *cli.Command {
	return &cli.Command{
		Name:  "rates",
		Usage: "Print the export rates of a region for one local day",
		Flags: []cli.Flag{
			regionFlag,
			&cli.StringFlag{
				Name:  "day",
				Value: "today",
				Usage: "Day to print (today, tomorrow)",
			},
		},
		Action: func(c *cli.Context) error {
			location, err := slots.LoadLocation(c.String("timezone"))
			if err != nil {
				return err
			}
			region, err := octopus.ParseRegion(c.String("region"))
			if err != nil {
				return err
			}

			client := newClient(c)
			defer client.Close()

			product, err := client.DiscoverExportProduct(c.Context)
			if err != nil {
				return err
			}
			tariff, err := product.Tariff(region)
			if err != nil {
				return err
			}
			table, err := client.FetchRates(c.Context, tariff)
			if err != nil {
				return err
			}

			day := rates.LocalDate(time.Now(), location)
			switch c.String("day") {
			case "today":
			case "tomorrow":
				day = day.AddDays(1)
			default:
				return fmt.Errorf("unknown day %q, use today or tomorrow", c.String("day"))
			}

			fmt.Printf("Tariff: %s, %s (%s)\n", tariff, day, location)
			for _, r := range rates.ForLocalDate(table, day, location) {
				fmt.Printf("  %s  %s\n", r.Time, r.Price.StringFixed(4))
			}
			return nil
		},
	}
}
