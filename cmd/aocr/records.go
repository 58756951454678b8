package main

import (
	"context"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"aocr/internal/app"
	"aocr/internal/domain"
	"aocr/internal/subflows"
)

// printFired reports what the dispatcher did after a subordinate change.
func printFired(w io.Writer, record any, fired *subflows.Fired) error {
	return printJSON(w, map[string]any{"record": record, "trigger": fired})
}

func documentCmd() *cobra.Command {
	doc := &cobra.Command{Use: "document", Aliases: []string{"doc"}, Short: "Submit and review documents"}

	var kind, name string
	add := &cobra.Command{
		Use:   "add <request>",
		Short: "Submit a document",
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
				d, err := a.Flows.AddDocument(ctx, subflows.AddDocumentInput{
					RequestID: req.ID, Kind: kind, Name: name, ActorID: actor, ActorRoles: actorRoles(),
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), d)
			})
		},
	}
	add.Flags().StringVar(&kind, "kind", "", "document kind")
	add.Flags().StringVar(&name, "name", "", "file name")

	var status, note string
	review := &cobra.Command{
		Use:   "review <document-id>",
		Short: "Approve or reject a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, fired, err := a.Flows.ReviewDocument(ctx, subflows.ReviewDocumentInput{
					DocumentID: id, Status: domain.ReviewStatus(status), Note: note, ActorID: actor, ActorRoles: actorRoles(),
				})
				if err != nil {
					return err
				}
				return printFired(cmd.OutOrStdout(), d, fired)
			})
		},
	}
	review.Flags().StringVar(&status, "status", "", "Approved or Rejected")
	review.Flags().StringVar(&note, "note", "", "review note")

	list := &cobra.Command{
		Use:   "list <request>",
		Short: "List documents of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := lookupRequest(ctx, a, args[0])
				if err != nil {
					return err
				}
				docs, err := a.Engine.Repo.ListDocuments(ctx, req.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), docs, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Kind", "Name", "Status", "Reviewer", "Note"})
					for _, d := range docs {
						tw.AppendRow(table.Row{d.ID, d.Kind, d.Name, d.Status, deref(d.ReviewerID), d.Note})
					}
				})
			})
		},
	}

	doc.AddCommand(add, review, list)
	return doc
}

func paymentCmd() *cobra.Command {
	pay := &cobra.Command{Use: "payment", Short: "Record and validate payments"}

	var amount int64
	var reference string
	add := &cobra.Command{
		Use:   "add <request>",
		Short: "Record a payment (amount in minor units)",
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
				p, err := a.Flows.AddPayment(ctx, subflows.AddPaymentInput{
					RequestID: req.ID, Amount: amount, Reference: reference, ActorID: actor, ActorRoles: actorRoles(),
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), p)
			})
		},
	}
	add.Flags().Int64Var(&amount, "amount", 0, "amount in minor units")
	add.Flags().StringVar(&reference, "reference", "", "bank reference")

	var status string
	review := &cobra.Command{
		Use:   "review <payment-id>",
		Short: "Approve or reject a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, fired, err := a.Flows.ReviewPayment(ctx, subflows.ReviewPaymentInput{
					PaymentID: id, Status: domain.ReviewStatus(status), ActorID: actor, ActorRoles: actorRoles(),
				})
				if err != nil {
					return err
				}
				return printFired(cmd.OutOrStdout(), p, fired)
			})
		},
	}
	review.Flags().StringVar(&status, "status", "", "Approved or Rejected")

	list := &cobra.Command{
		Use:   "list <request>",
		Short: "List payments of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := lookupRequest(ctx, a, args[0])
				if err != nil {
					return err
				}
				items, err := a.Engine.Repo.ListPayments(ctx, req.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), items, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Amount", "Reference", "Status", "Reviewer"})
					for _, p := range items {
						tw.AppendRow(table.Row{p.ID, p.Amount, p.Reference, p.Status, deref(p.ReviewerID)})
					}
				})
			})
		},
	}

	pay.AddCommand(add, review, list)
	return pay
}

func inspectionCmd() *cobra.Command {
	insp := &cobra.Command{Use: "inspection", Short: "Open and close technical inspections"}

	open := &cobra.Command{
		Use:   "open <request>",
		Short: "Open an inspection",
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
				i, err := a.Flows.OpenInspection(ctx, subflows.OpenInspectionInput{
					RequestID: req.ID, ActorID: actor, ActorRoles: actorRoles(),
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), i)
			})
		},
	}

	var result string
	closeCmd := &cobra.Command{
		Use:   "close <inspection-id>",
		Short: "Close an inspection with its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				i, fired, err := a.Flows.CloseInspection(ctx, subflows.CloseInspectionInput{
					InspectionID: id, Result: domain.InspectionResult(result), ActorID: actor, ActorRoles: actorRoles(),
				})
				if err != nil {
					return err
				}
				return printFired(cmd.OutOrStdout(), i, fired)
			})
		},
	}
	closeCmd.Flags().StringVar(&result, "result", "", "Approved or Rejected")

	list := &cobra.Command{
		Use:   "list <request>",
		Short: "List inspections of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := lookupRequest(ctx, a, args[0])
				if err != nil {
					return err
				}
				items, err := a.Engine.Repo.ListInspections(ctx, req.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), items, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Inspector", "Status", "Result", "Opened", "Closed"})
					for _, i := range items {
						res := ""
						if i.Result != nil {
							res = string(*i.Result)
						}
						tw.AppendRow(table.Row{i.ID, i.InspectorID, i.Status, res, i.OpenedAt, deref(i.ClosedAt)})
					}
				})
			})
		},
	}

	insp.AddCommand(open, closeCmd, list)
	return insp
}

func findingCmd() *cobra.Command {
	finding := &cobra.Command{Use: "finding", Short: "Record and resolve inspection findings"}

	var description string
	add := &cobra.Command{
		Use:   "add <inspection-id>",
		Short: "Record a finding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f, err := a.Flows.AddFinding(ctx, subflows.AddFindingInput{
					InspectionID: id, Description: description, ActorID: actor, ActorRoles: actorRoles(),
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), f)
			})
		},
	}
	add.Flags().StringVar(&description, "description", "", "what was found")

	closeCmd := &cobra.Command{
		Use:   "close <finding-id>",
		Short: "Resolve a finding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f, fired, err := a.Flows.CloseFinding(ctx, subflows.CloseFindingInput{
					FindingID: id, ActorID: actor, ActorRoles: actorRoles(),
				})
				if err != nil {
					return err
				}
				return printFired(cmd.OutOrStdout(), f, fired)
			})
		},
	}

	finding.AddCommand(add, closeCmd)
	return finding
}
