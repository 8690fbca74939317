package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/whale-watch/pkg/archive"
)

// whalectl reads the sighting archive produced by the watcher daemon.
func main() {
	var (
		dbPath  = flag.String("db", "whale_watch.db", "path to the sighting archive")
		recent  = flag.Int("recent", 20, "show the N most recent sightings")
		stats   = flag.Bool("stats", false, "show archive totals instead of sightings")
		address = flag.String("address", "", "only sightings touching this address")
	)
	flag.Parse()

	arch, err := archive.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open archive: %v\n", err)
		os.Exit(1)
	}
	defer arch.Close()

	if *stats {
		printStats(arch)
		return
	}
	printRecent(arch, *recent, *address)
}

func printRecent(arch *archive.Store, limit int, address string) {
	var (
		sightings []archive.Sighting
		err       error
	)
	if address != "" {
		sightings, err = arch.ByAddress(address, limit)
	} else {
		sightings, err = arch.Recent(limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "read archive: %v\n", err)
		os.Exit(1)
	}
	if len(sightings) == 0 {
		fmt.Println("no sightings recorded")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"When", "Hash", "BTC", "USD", "Type", "Job"})
	table.SetBorder(false)
	for _, s := range sightings {
		table.Append([]string{
			s.ObservedAt.Local().Format("01-02 15:04"),
			abbrev(s.Hash),
			fmt.Sprintf("%.2f", s.AmountBTC),
			fmt.Sprintf("$%.0f", s.AmountUSD),
			colorize(s.Classification),
			s.JobID,
		})
	}
	table.Render()
}

func printStats(arch *archive.Store) {
	st, err := arch.GetStats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "read archive: %v\n", err)
		os.Exit(1)
	}

	bold := color.New(color.Bold).SprintFunc()
	fmt.Printf("%s %d sightings, $%.0f lifetime volume\n\n", bold("archive:"), st.Total, st.TotalUSD)

	classes := make([]string, 0, len(st.ByType))
	for c := range st.ByType {
		classes = append(classes, c)
	}
	sort.Strings(classes)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Classification", "Count"})
	table.SetBorder(false)
	for _, c := range classes {
		table.Append([]string{colorize(c), fmt.Sprintf("%d", st.ByType[c])})
	}
	table.Render()
}

// colorize keys the classification column: red reads bearish, green bullish.
func colorize(class string) string {
	switch class {
	case "exchange_deposit":
		return color.RedString(class)
	case "exchange_withdrawal":
		return color.GreenString(class)
	case "whale_to_whale":
		return color.YellowString(class)
	default:
		return class
	}
}

func abbrev(s string) string {
	if len(s) > 16 {
		return s[:8] + "..." + s[len(s)-4:]
	}
	return s
}
