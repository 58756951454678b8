package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"aocr/internal/app"
	"aocr/internal/domain"
	"aocr/internal/engine"
	"aocr/internal/repo"
)

func requestCmd() *cobra.Command {
	req := &cobra.Command{
		Use:     "request",
		Aliases: []string{"req"},
		Short:   "Create and move requests",
	}
	req.AddCommand(requestCreateCmd())
	req.AddCommand(requestListCmd())
	req.AddCommand(requestShowCmd())
	req.AddCommand(requestTransitionCmd())
	req.AddCommand(requestHistoryCmd())
	req.AddCommand(requestAvailableCmd())
	req.AddCommand(requestAssignCmd())
	req.AddCommand(requestVerifyCmd())
	req.AddCommand(requestNotifyCmd())
	return req
}

func requestRow(tw table.Writer, items []domain.Request) {
	tw.AppendHeader(table.Row{"ID", "Number", "Type", "Owner", "State", "Technician", "Version", "Updated"})
	for _, r := range items {
		tw.AppendRow(table.Row{r.ID, r.Number, r.Type, r.OwnerID, r.State, deref(r.TechnicianID), r.Version, r.UpdatedAt})
	}
}

func requestCreateCmd() *cobra.Command {
	var reqType, title, owner string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a request in Draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := a.Engine.CreateRequest(ctx, engine.CreateRequestOptions{
					Type: reqType, Title: title, OwnerID: owner, ActorID: actor,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), req, func(tw table.Writer) {
					requestRow(tw, []domain.Request{req})
				})
			})
		},
	}
	cmd.Flags().StringVar(&reqType, "type", "", "request type (e.g. operador-aereo)")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&owner, "owner", "", "owner actor id (defaults to the actor)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func requestListCmd() *cobra.Command {
	var f repo.RequestFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.State != "" && !domain.State(f.State).IsValid() {
				return fmt.Errorf("unknown state %q", f.State)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListRequests(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), items, func(tw table.Writer) {
					requestRow(tw, items)
				})
			})
		},
	}
	cmd.Flags().StringVar(&f.State, "state", "", "state filter")
	cmd.Flags().StringVar(&f.OwnerID, "owner", "", "owner filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "type filter")
	cmd.Flags().StringVar(&f.TechnicianID, "technician", "", "technician filter")
	cmd.Flags().BoolVar(&f.IncludeDeleted, "all", false, "include withdrawn requests")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

// lookupRequest accepts a numeric id or a request number.
func lookupRequest(ctx context.Context, a *app.App, arg string) (domain.Request, error) {
	if strings.Contains(arg, "-") {
		return a.Engine.Repo.GetRequestByNumber(ctx, arg)
	}
	id, err := parseID(arg)
	if err != nil {
		return domain.Request{}, err
	}
	return a.Engine.GetRequest(ctx, id)
}

func requestShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|number>",
		Short: "Show a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := lookupRequest(ctx, a, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), req)
			})
		},
	}
}

func requestTransitionCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "transition <id|number> <target-state>",
		Short: "Request a state transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := domain.State(args[1])
			if !target.IsValid() {
				return fmt.Errorf("unknown state %q", args[1])
			}
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := lookupRequest(ctx, a, args[0])
				if err != nil {
					return err
				}
				res, err := a.Engine.RequestTransition(ctx, engine.TransitionInput{
					RequestID: req.ID, Target: target, ActorID: actor, ActorRoles: actorRoles(), Reason: reason,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), res, func(tw table.Writer) {
					requestRow(tw, []domain.Request{res.Request})
				})
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the ledger")
	return cmd
}

func requestHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id|number>",
		Short: "Show the transition ledger of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := lookupRequest(ctx, a, args[0])
				if err != nil {
					return err
				}
				records, err := a.Engine.History(ctx, req.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), records, func(tw table.Writer) {
					tw.SetTitle(req.Number)
					tw.AppendHeader(table.Row{"#", "From", "To", "Actor", "Reason", "At"})
					for i, rec := range records {
						from := "-"
						if rec.From != nil {
							from = string(*rec.From)
						}
						tw.AppendRow(table.Row{i + 1, from, rec.To, rec.ActorID, rec.Reason, rec.TS})
					}
				})
			})
		},
	}
}

func requestAvailableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "available <id|number>",
		Short: "List transitions the actor may request now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := lookupRequest(ctx, a, args[0])
				if err != nil {
					return err
				}
				opts, err := a.Engine.AvailableTransitions(ctx, req.ID, actor, actorRoles())
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), opts, func(tw table.Writer) {
					tw.SetTitle(fmt.Sprintf("%s (%s)", req.Number, req.State))
					tw.AppendHeader(table.Row{"Target", "Gates", "Ready", "Blocked by"})
					for _, o := range opts {
						tw.AppendRow(table.Row{o.Target, strings.Join(o.Gates, ","), o.Ready, o.Blocked})
					}
				})
			})
		},
	}
}

func requestAssignCmd() *cobra.Command {
	var technician string
	cmd := &cobra.Command{
		Use:   "assign <id|number>",
		Short: "Assign the responsible technician",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := lookupRequest(ctx, a, args[0])
				if err != nil {
					return err
				}
				updated, err := a.Engine.AssignTechnician(ctx, engine.AssignInput{
					RequestID: req.ID, TechnicianID: technician, ActorID: actor, ActorRoles: actorRoles(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), updated, func(tw table.Writer) {
					requestRow(tw, []domain.Request{updated})
				})
			})
		},
	}
	cmd.Flags().StringVar(&technician, "technician", "", "technician actor id")
	_ = cmd.MarkFlagRequired("technician")
	return cmd
}

func requestVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [id|number]",
		Short: "Replay ledgers and compare them with stored states",
		Long:  "Without an argument every request is checked. Exits non-zero when any request fails.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var results []engine.Verification
				if len(args) == 1 {
					req, err := lookupRequest(ctx, a, args[0])
					if err != nil {
						return err
					}
					v, err := a.Engine.Verify(ctx, req.ID)
					if err != nil {
						return err
					}
					results = append(results, v)
				} else {
					all, err := a.Engine.VerifyAll(ctx)
					if err != nil {
						return err
					}
					results = all
				}
				if err := printJSONOrTable(cmd.OutOrStdout(), results, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Number", "Persisted", "Replayed", "Records", "OK", "Problem"})
					for _, v := range results {
						tw.AppendRow(table.Row{v.RequestID, v.Number, v.Persisted, v.Replayed, v.Records, v.OK, v.Problem})
					}
				}); err != nil {
					return err
				}
				failed := 0
				for _, v := range results {
					if !v.OK {
						failed++
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d requests failed verification", failed, len(results))
				}
				return nil
			})
		},
	}
}

func requestNotifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notify <id|number> <kind>",
		Short: "Deliver a subordinate event (documents-complete, payment-approved, inspection-closed)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := engine.TriggerEdge(args[1]); !ok {
				return fmt.Errorf("%w: %s", engine.ErrUnknownTrigger, args[1])
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := lookupRequest(ctx, a, args[0])
				if err != nil {
					return err
				}
				res, err := a.Engine.OnSubordinateEvent(ctx, args[1], req.ID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}
