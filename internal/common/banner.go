package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application startup banner
func PrintBanner(config *Config, logger arbor.ILogger) {
	version := GetVersion()
	serviceURL := fmt.Sprintf("http://%s:%d%s", config.Server.Host, config.Server.Port, config.Server.Proxy)

	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorBlue).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	fmt.Printf("\n")
	b.PrintTopLine()
	b.PrintCenteredText("FREVA REST")
	b.PrintCenteredText("Climate Dataset Discovery and Access Gateway")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Version", version, 15)
	b.PrintKeyValue("Service URL", serviceURL, 15)
	b.PrintKeyValue("Solr", config.Solr.Host, 15)
	b.PrintKeyValue("Mongo", config.Mongo.Host, 15)
	b.PrintKeyValue("Redis", config.Redis.Host, 15)
	b.PrintBottomLine()
	fmt.Printf("\n")

	logger.Info().
		Str("version", version).
		Str("service_url", serviceURL).
		Strs("services", config.Server.Services).
		Msg("Application started")
}
