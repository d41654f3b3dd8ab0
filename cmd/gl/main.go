package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gigline/internal/app"
	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/migrate"
	"gigline/internal/repo"
	"gigline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "Gigline CLI",
	Long: `Gigline is a job marketplace for music production work.
Clients post jobs, musicians pitch proposals, and accepting a proposal turns
into a contract with an escrow hold and a private conversation. Statuses move
through fixed machines: jobs draft -> published -> contracted -> completed,
proposals submitted -> shortlisted -> accepted/rejected/withdrawn, contracts
active -> in_progress -> delivered -> completed.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GIGLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "", "acting user id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(proposalCmd())
	rootCmd.AddCommand(contractCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func actingUser() (string, error) {
	id := viper.GetString("user-id")
	if id == "" {
		return "", fmt.Errorf("--user-id required (or GIGLINE_USER_ID)")
	}
	return id, nil
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage users"}
	cmd.AddCommand(userRegisterCmd())
	cmd.AddCommand(userShowCmd())
	cmd.AddCommand(userListCmd())
	return cmd
}

func userRegisterCmd() *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.RegisterUser(ctx, name, email)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func userShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := r.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func userListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				users, err := r.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Created"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email, u.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func jobCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "job", Short: "Manage jobs"}
	cmd.AddCommand(jobCreateCmd())
	cmd.AddCommand(jobPublishCmd())
	cmd.AddCommand(jobStatusCmd())
	cmd.AddCommand(jobShowCmd())
	cmd.AddCommand(jobListCmd())
	return cmd
}

func jobCreateCmd() *cobra.Command {
	var title, description, deliveryDate string
	var budget, budgetMin, budgetMax int64
	var remote bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Post a job (draft)",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := actingUser()
			if err != nil {
				return err
			}
			opts := engine.JobCreateOptions{
				ClientID:     userID,
				Title:        title,
				Description:  description,
				Remote:       remote,
				DeliveryDate: deliveryDate,
				ActorID:      userID,
			}
			if cmd.Flags().Changed("budget") {
				opts.Budget = &budget
			}
			if cmd.Flags().Changed("budget-min") {
				opts.BudgetMin = &budgetMin
			}
			if cmd.Flags().Changed("budget-max") {
				opts.BudgetMax = &budgetMax
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.CreateJob(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "job title")
	cmd.Flags().StringVar(&description, "description", "", "job description")
	cmd.Flags().Int64Var(&budget, "budget", 0, "fixed budget in cents")
	cmd.Flags().Int64Var(&budgetMin, "budget-min", 0, "budget range lower bound in cents")
	cmd.Flags().Int64Var(&budgetMax, "budget-max", 0, "budget range upper bound in cents")
	cmd.Flags().BoolVar(&remote, "remote", false, "remote work")
	cmd.Flags().StringVar(&deliveryDate, "delivery-date", "", "delivery date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func jobPublishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <job-id>",
		Short: "Publish a draft job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := actingUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.PublishJob(ctx, args[0], userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func jobStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <job-id>",
		Short: "Administrative job transition (in_review, completed, closed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := actingUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.SetJobStatus(ctx, args[0], userID, status)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func jobShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func jobListCmd() *cobra.Command {
	var f repo.JobFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				jobs, err := e.ListJobs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Client", "Created"})
				for _, j := range jobs {
					tw.AppendRow(table.Row{j.ID, j.Title, j.Status, j.ClientID, j.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.ClientID, "client-id", "", "client filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "page size")
	return cmd
}

func proposalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "proposal", Short: "Manage proposals"}
	cmd.AddCommand(proposalSubmitCmd())
	cmd.AddCommand(proposalAcceptCmd())
	cmd.AddCommand(proposalRejectCmd())
	cmd.AddCommand(proposalShortlistCmd())
	cmd.AddCommand(proposalWithdrawCmd())
	cmd.AddCommand(proposalListCmd())
	return cmd
}

func proposalSubmitCmd() *cobra.Command {
	var jobID, cover string
	var quote int64
	var days int
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a proposal to a published job",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := actingUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SubmitProposal(ctx, engine.ProposalCreateOptions{
					JobID:        jobID,
					MusicianID:   userID,
					QuoteTotal:   quote,
					DeliveryDays: days,
					CoverMessage: cover,
					ActorID:      userID,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job-id", "", "job to pitch on")
	cmd.Flags().Int64Var(&quote, "quote", 0, "quoted total in cents")
	cmd.Flags().IntVar(&days, "delivery-days", 0, "delivery estimate in days")
	cmd.Flags().StringVar(&cover, "cover", "", "cover message")
	_ = cmd.MarkFlagRequired("job-id")
	_ = cmd.MarkFlagRequired("quote")
	_ = cmd.MarkFlagRequired("delivery-days")
	return cmd
}

func proposalAcceptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept <proposal-id>",
		Short: "Accept a proposal (creates contract and conversation)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := actingUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.AcceptProposal(ctx, args[0], userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func proposalRejectCmd() *cobra.Command {
	return proposalActionCmd("reject", "Reject a proposal", func(e engine.Engine, ctx context.Context, id, userID string) error {
		p, err := e.RejectProposal(ctx, id, userID)
		if err != nil {
			return err
		}
		return printJSONOrTable(p)
	})
}

func proposalShortlistCmd() *cobra.Command {
	return proposalActionCmd("shortlist", "Shortlist a proposal", func(e engine.Engine, ctx context.Context, id, userID string) error {
		p, err := e.ShortlistProposal(ctx, id, userID)
		if err != nil {
			return err
		}
		return printJSONOrTable(p)
	})
}

func proposalWithdrawCmd() *cobra.Command {
	return proposalActionCmd("withdraw", "Withdraw a proposal", func(e engine.Engine, ctx context.Context, id, userID string) error {
		p, err := e.WithdrawProposal(ctx, id, userID)
		if err != nil {
			return err
		}
		return printJSONOrTable(p)
	})
}

func proposalActionCmd(verb, short string, fn func(e engine.Engine, ctx context.Context, id, userID string) error) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <proposal-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := actingUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return fn(e, ctx, args[0], userID)
			})
		},
	}
}

func proposalListCmd() *cobra.Command {
	var jobID string
	var mine bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List proposals for a job (owner) or your own",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := actingUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var props any
				if mine {
					props, err = e.ListProposalsByMusician(ctx, userID, repo.ProposalFilters{})
				} else if jobID != "" {
					props, err = e.ListProposalsForJob(ctx, jobID, userID, repo.ProposalFilters{})
				} else {
					return fmt.Errorf("--job-id or --mine required")
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(props)
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job-id", "", "list a job's proposals")
	cmd.Flags().BoolVar(&mine, "mine", false, "list my proposals")
	return cmd
}

func contractCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "contract", Short: "Manage contracts"}
	cmd.AddCommand(contractShowCmd())
	cmd.AddCommand(contractListCmd())
	cmd.AddCommand(contractStatusCmd())
	return cmd
}

func contractShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <contract-id>",
		Short: "Show a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.GetContract(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func contractListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List my contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := actingUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				contracts, err := e.ListContractsForUser(ctx, userID, repo.ContractFilters{})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(contracts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Job", "Status", "Escrow", "Client", "Musician"})
				for _, c := range contracts {
					tw.AppendRow(table.Row{c.ID, c.JobID, c.Status, c.EscrowTotal, c.ClientID, c.MusicianID})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func contractStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <contract-id>",
		Short: "Advance contract fulfillment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := actingUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.SetContractStatus(ctx, args[0], userID, status)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "chat", Short: "Conversations and messages"}
	cmd.AddCommand(chatOpenCmd())
	cmd.AddCommand(chatListCmd())
	cmd.AddCommand(chatShowCmd())
	cmd.AddCommand(chatSendCmd())
	cmd.AddCommand(chatJoinCmd())
	cmd.AddCommand(chatReadCmd())
	cmd.AddCommand(chatUnreadCmd())
	return cmd
}

func chatOpenCmd() *cobra.Command {
	var jobID, contractID string
	var participants []string
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a conversation under a job or a contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := actingUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				conv, err := e.CreateConversation(ctx, engine.ConversationCreateOptions{
					JobID:          jobID,
					ContractID:     contractID,
					ParticipantIDs: participants,
					ActorID:        userID,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(conv)
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job-id", "", "parent job")
	cmd.Flags().StringVar(&contractID, "contract-id", "", "parent contract")
	cmd.Flags().StringSliceVar(&participants, "with", nil, "additional participant user ids")
	return cmd
}

func chatListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List my conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := actingUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sums, err := e.ListConversationsForUser(ctx, userID, 0, "", "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sums)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Parent", "Participants", "Unread", "Last message"})
				for _, s := range sums {
					parent := ""
					if s.Conversation.JobID != nil {
						parent = "job:" + *s.Conversation.JobID
					}
					if s.Conversation.ContractID != nil {
						parent = "contract:" + *s.Conversation.ContractID
					}
					var names []string
					for _, u := range s.Participants {
						names = append(names, u.Name)
					}
					last := ""
					if s.LastMessage != nil {
						last = s.LastMessage.Body
						if len(last) > 40 {
							last = last[:40] + "..."
						}
					}
					tw.AppendRow(table.Row{s.Conversation.ID, parent, strings.Join(names, ", "), s.UnreadCount, last})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func chatShowCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Show a conversation's messages (newest first)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := actingUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.GetConversation(ctx, args[0], userID, limit, "", "")
				if err != nil {
					return err
				}
				return printJSONOrTable(view)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "page size")
	return cmd
}

func chatSendCmd() *cobra.Command {
	var body string
	cmd := &cobra.Command{
		Use:   "send <conversation-id>",
		Short: "Post a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := actingUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.PostMessage(ctx, args[0], userID, body)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "message body")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func chatJoinCmd() *cobra.Command {
	var joinUserID string
	cmd := &cobra.Command{
		Use:   "add <conversation-id>",
		Short: "Add a participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := actingUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.AddParticipant(ctx, args[0], joinUserID, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&joinUserID, "member", "", "user to add")
	_ = cmd.MarkFlagRequired("member")
	return cmd
}

func chatReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <conversation-id>",
		Short: "Mark a conversation read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := actingUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.MarkConversationRead(ctx, args[0], userID); err != nil {
					return err
				}
				fmt.Println("ok")
				return nil
			})
		},
	}
	return cmd
}

func chatUnreadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unread <conversation-id>",
		Short: "Unread message count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := actingUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.UnreadCount(ctx, args[0], userID)
				if err != nil {
					return err
				}
				fmt.Println(n)
				return nil
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var name, key string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Store an API key (hash only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := actingUser()
			if err != nil {
				return err
			}
			if key == "" {
				return fmt.Errorf("--key required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				k := domainAPIKey(userID, name, key)
				if err := r.InsertAPIKey(ctx, nil, k); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": k.ID, "user_id": k.UserID, "name": k.Name})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	cmd.Flags().StringVar(&key, "key", "", "plaintext key to hash and store")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List my API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := actingUser()
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Marketplace configuration"}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configImportCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the stored marketplace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import marketplace config from YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertMarketplaceConfig(ctx, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			cfg, err := app.ResolveConfig(cmd.Context(), workspace, r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:             os.Getenv("GIGLINE_JWT_SECRET"),
				AllowLegacyUserHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("GIGLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Gigline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-user-header", false, "accept X-User-Id without auth (dev only)")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	cfg, err := app.ResolveConfig(ctx, workspace, r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func domainAPIKey(userID, name, key string) domain.APIKey {
	return domain.APIKey{
		ID:      uuid.NewString(),
		UserID:  userID,
		Name:    name,
		KeyHash: repo.HashAPIKey(key),
	}
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
