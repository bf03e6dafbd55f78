package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"salasgw/internal/config"
	"salasgw/internal/logger"
	"salasgw/internal/server"
)

const shutdownTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:   "gw",
	Short: "Room-rental API gateway",
	Long: `gw fronts the reservations service for browser clients.
- serve: proxy the REST API, add hypermedia links to salas and reservas, and bridge reports to SOAP.
- routes: print the proxy table.
- salas, reservas, relatorio: talk to a running gateway.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GATEWAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("gateway", "http://localhost:3000", "gateway URL for client commands")
	rootCmd.PersistentFlags().String("token", "", "bearer token for client commands")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("gateway", rootCmd.PersistentFlags().Lookup("gateway"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(salasCmd())
	rootCmd.AddCommand(reservasCmd())
	rootCmd.AddCommand(relatorioCmd())
}

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper(), viper.GetString("config"))
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logger.Setup(cfg.Server.LogLevel, cfg.Server.LogFormat)
			handler, err := server.New(server.Config{Settings: cfg, Logger: log})
			if err != nil {
				return err
			}
			srv := &http.Server{
				Addr:              cfg.Addr(),
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(ctx); err != nil {
					log.Error("shutdown failed", slog.Any("error", err))
				}
			}()
			log.Info("gateway listening",
				slog.String("addr", cfg.Addr()),
				slog.String("public_url", cfg.PublicBaseURL()),
				slog.String("upstream", cfg.Upstream.BaseURL),
				slog.String("wsdl", cfg.SOAP.WSDLURL),
				slog.String("version", server.Version),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			log.Info("gateway stopped")
			return nil
		},
	}
	cmd.Flags().Int("port", config.DefaultPort, "listen port")
	cmd.Flags().String("public-url", "", "base URL advertised in links (default http://localhost:{port})")
	cmd.Flags().String("upstream", "", "REST base URL of the reservations service")
	cmd.Flags().String("wsdl", "", "WSDL URL of the report service")
	cmd.Flags().String("log-level", "info", "debug, info, warn or error")
	cmd.Flags().String("log-format", "json", "json or text")
	bindFlag(cmd, "server.port", "port")
	bindFlag(cmd, "server.public_url", "public-url")
	bindFlag(cmd, "upstream.base_url", "upstream")
	bindFlag(cmd, "soap.wsdl_url", "wsdl")
	bindFlag(cmd, "server.log_level", "log-level")
	bindFlag(cmd, "server.log_format", "log-format")
	return cmd
}

// bindFlag lets an explicitly set flag override file and env values.
func bindFlag(cmd *cobra.Command, key, name string) {
	_ = viper.BindPFlag(key, cmd.Flags().Lookup(name))
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the proxy route table",
		RunE: func(cmd *cobra.Command, args []string) error {
			routes := server.Routes()
			if viper.GetBool("json") {
				type row struct {
					Method     string `json:"method"`
					Path       string `json:"path"`
					Upstream   string `json:"upstream"`
					Enrichment string `json:"enrichment"`
					Status     string `json:"status"`
				}
				out := make([]row, 0, len(routes)+1)
				for _, rt := range routes {
					out = append(out, row{rt.Method, rt.Path, rt.Upstream + "/", rt.Enrich.String(), rt.StatusText()})
				}
				out = append(out, row{http.MethodGet, "/relatorios/sala/{id}", "soap:gerar_relatorio_reservas", "none", "200"})
				return printJSON(cmd.OutOrStdout(), out)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Method", "Path", "Upstream", "Links", "Status"})
			for _, rt := range routes {
				links := rt.Enrich.String()
				if rt.Enrich != server.EnrichNone {
					links += " (" + string(rt.Resource) + ")"
				}
				tw.AppendRow(table.Row{rt.Method, rt.Path, rt.Method + " " + rt.Upstream + "/", links, rt.StatusText()})
			}
			tw.AppendRow(table.Row{http.MethodGet, "/relatorios/sala/{id}", "SOAP gerar_relatorio_reservas", "none", "200"})
			tw.Render()
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect gateway config",
		Long:  "Config comes from defaults, then the --config file, then GATEWAY_* variables (PORT, DJANGO_API_URL and DJANGO_SOAP_WSDL are honored too), then flags.",
	}
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
