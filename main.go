package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"earshot/config"
	"earshot/engine"
	"earshot/watch"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)

	listenCmd.Flags().Bool("fast", false, "Use the low-latency model preset")
	viper.BindPFlag("fast", listenCmd.Flags().Lookup("fast"))

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statsCmd)

	rootCmd.PersistentFlags().String("feed-host", "", "Transcript feed host")
	rootCmd.PersistentFlags().Int("feed-port", 0, "Transcript feed port")
	rootCmd.PersistentFlags().String("ollama-host", "", "Ollama host")
	rootCmd.PersistentFlags().Int("ollama-port", 0, "Ollama port")
	rootCmd.PersistentFlags().String("hub-host", "", "Client hub bind host")
	rootCmd.PersistentFlags().Int("hub-port", 0, "Client hub bind port")
	rootCmd.PersistentFlags().String("model", "", "Advisor model name")

	viper.BindPFlag("feed_host", rootCmd.PersistentFlags().Lookup("feed-host"))
	viper.BindPFlag("feed_port", rootCmd.PersistentFlags().Lookup("feed-port"))
	viper.BindPFlag("ollama_host", rootCmd.PersistentFlags().Lookup("ollama-host"))
	viper.BindPFlag("ollama_port", rootCmd.PersistentFlags().Lookup("ollama-port"))
	viper.BindPFlag("hub_host", rootCmd.PersistentFlags().Lookup("hub-host"))
	viper.BindPFlag("hub_port", rootCmd.PersistentFlags().Lookup("hub-port"))
	viper.BindPFlag("advisor_model", rootCmd.PersistentFlags().Lookup("model"))
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("EARSHOT")
	viper.AutomaticEnv()
	config.SetDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Error reading config file: %s\n", err)
		}
	}

	logger = createLogger()
}

var rootCmd = &cobra.Command{
	Use:   "earshot",
	Short: "Earshot relays live transcripts to an advisory LLM",
	Long:  `Earshot subscribes to a live transcription feed, tracks conversation context, answers detected questions through a local Ollama model, and broadcasts the answers to connected terminal clients.`,
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run the advisory pipeline",
	Run:   runListen,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow advisory answers in the terminal",
	Run:   runWatch,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pipeline counters from a running instance",
	Run:   runStats,
}

func runListen(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := engine.New(cfg, logger)
	if err := e.Run(ctx); err != nil {
		logger.Fatal("run pipeline", "error", err.Error())
	}
}

func runWatch(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", "error", err.Error())
	}

	if err := watch.Run(cfg.HubAddr()); err != nil {
		logger.Fatal("watch", "error", err.Error())
	}
}

func runStats(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", "error", err.Error())
	}

	url := "http://" + cfg.HubAddr() + "/stats"
	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Get(url)
	if err != nil {
		logger.Fatal("fetch stats", "url", url, "error", err.Error())
	}
	defer resp.Body.Close()

	var snap engine.StatsSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		logger.Fatal("decode stats", "error", err.Error())
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Counter", "Value"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	table.Append([]string{"Transcripts processed", fmt.Sprintf("%d", snap.TranscriptsProcessed)})
	table.Append([]string{"Questions answered", fmt.Sprintf("%d", snap.QuestionsProcessed)})
	table.Append([]string{"Context updates", fmt.Sprintf("%d", snap.ContextUpdates)})
	table.Append([]string{"Context entries", fmt.Sprintf("%d", snap.ContextEntries)})
	table.Append([]string{"Feed reconnects", fmt.Sprintf("%d", snap.FeedReconnects)})
	table.Append([]string{"Connected clients", fmt.Sprintf("%d", snap.Clients)})
	table.Append([]string{"Paused", fmt.Sprintf("%t", snap.Paused)})
	table.Append([]string{"Last response", fmt.Sprintf("%.2f s", snap.LastResponseSeconds)})
	table.Append([]string{"Inference requests", fmt.Sprintf("%d", snap.Inference.Requests)})
	table.Append([]string{"Cache hits", fmt.Sprintf("%d", snap.Inference.CacheHits)})
	table.Append([]string{"Cache hit rate", fmt.Sprintf("%.1f%%", snap.Inference.CacheHitRate*100)})
	table.Append([]string{"Success rate", fmt.Sprintf("%.1f%%", snap.Inference.SuccessRate*100)})
	table.Append([]string{"Timeouts", fmt.Sprintf("%d", snap.Inference.Timeouts)})

	table.Render()
}

func createLogger() *log.Logger {
	l := log.New(os.Stdout)
	l.SetLevel(log.DebugLevel)

	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.MarginTop(1).
		Bold(false).Transform(func(s string) string {
		return strings.TrimSuffix(s, ":")
	})
	styles.Levels[log.InfoLevel] = styles.Levels[log.InfoLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	l.SetStyles(styles)

	return l
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
