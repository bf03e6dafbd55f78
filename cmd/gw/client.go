package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	gatewaysdk "salasgw/sdk/go"
)

func newClient() *gatewaysdk.Client {
	c := gatewaysdk.New(viper.GetString("gateway"))
	c.BearerToken = viper.GetString("token")
	return c
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func salasCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "salas", Short: "Rooms"}
	cmd.AddCommand(salasListCmd())
	return cmd
}

func salasListCmd() *cobra.Command {
	var cidade string
	var page int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rooms",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if cidade != "" {
				q.Set("cidade", cidade)
			}
			if page > 0 {
				q.Set("page", strconv.Itoa(page))
			}
			res, err := newClient().ListSalas(cmd.Context(), q)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), res)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"ID", "Nome", "Cidade", "Capacidade", "Preco/h", "Disponivel"})
			for _, s := range res.Results {
				tw.AppendRow(table.Row{s.ID, s.Nome, s.Cidade + "/" + s.Estado, s.Capacidade, s.PrecoPorHora, s.Disponivel})
			}
			tw.AppendFooter(table.Row{"", "", "", "", "total", res.Count})
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&cidade, "cidade", "", "city filter")
	cmd.Flags().IntVar(&page, "page", 0, "page number")
	return cmd
}

func reservasCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "reservas", Short: "Reservations"}
	cmd.AddCommand(reservasListCmd())
	cmd.AddCommand(reservasCancelarCmd())
	cmd.AddCommand(reservasResponderCmd())
	return cmd
}

func reservasListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your reservations",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", strings.ToUpper(status))
			}
			res, err := newClient().ListReservas(cmd.Context(), q)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), res)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"ID", "Sala", "Inicio", "Fim", "Status", "Valor", "Acoes"})
			for _, r := range res.Results {
				valor := ""
				if r.ValorTotal != nil {
					valor = *r.ValorTotal
				}
				actions := make([]string, 0, 2)
				for _, rel := range []string{"cancelar", "aprovar_rejeitar"} {
					if _, ok := r.Links.Find(rel); ok {
						actions = append(actions, rel)
					}
				}
				tw.AppendRow(table.Row{r.ID, r.SalaNome, r.DataInicio, r.DataFim, r.Status, valor, strings.Join(actions, ",")})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (e.g. PENDENTE_APROVACAO)")
	return cmd
}

func reservasCancelarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancelar <id>",
		Short: "Cancel a reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			res, err := newClient().Cancelar(cmd.Context(), id)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Status)
			return nil
		},
	}
}

func reservasResponderCmd() *cobra.Command {
	var acao string
	cmd := &cobra.Command{
		Use:   "responder <id>",
		Short: "Approve or reject a reservation on your room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			switch strings.ToUpper(acao) {
			case "APROVAR", "REJEITAR":
			default:
				return fmt.Errorf("--acao must be APROVAR or REJEITAR")
			}
			res, err := newClient().Responder(cmd.Context(), id, acao)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&acao, "acao", "APROVAR", "APROVAR or REJEITAR")
	return cmd
}

func relatorioCmd() *cobra.Command {
	var limite int
	var ordenacao string
	cmd := &cobra.Command{
		Use:   "relatorio <sala-id>",
		Short: "Print the SOAP reservation report of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			raw, err := newClient().Relatorio(cmd.Context(), id, limite, strings.ToUpper(ordenacao))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			_, err = w.Write(raw)
			if err == nil && len(raw) > 0 && raw[len(raw)-1] != '\n' {
				fmt.Fprintln(w)
			}
			return err
		},
	}
	cmd.Flags().IntVar(&limite, "limite", 0, "maximum reservations (gateway default 10)")
	cmd.Flags().StringVar(&ordenacao, "ordenacao", "", "RECENTES, ANTIGAS or MAIOR_DURACAO")
	return cmd
}
