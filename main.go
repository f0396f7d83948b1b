package main

import "github.com/joshdurbin/strava-stats/internal/cmd"

func main() {
	cmd.Execute()
}
