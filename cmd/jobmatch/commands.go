package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kalambet/jobmatch/internal/api"
	"github.com/kalambet/jobmatch/internal/config"
	"github.com/kalambet/jobmatch/internal/embedding"
	"github.com/kalambet/jobmatch/internal/matching"
	"github.com/kalambet/jobmatch/internal/resume"
)

// --- relationship workflow ---

var applyCmd = &cobra.Command{
	Use:   "apply <job-id>",
	Short: "Apply to a job as a candidate",
	Long: `Apply to a job as a candidate.

Examples:
  jobmatch --as stu-42 --role candidate apply job-7`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		candidate, _ := cmd.Flags().GetString("candidate")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		rel, err := createRelationship(cmd.Context(), client, "/applications", candidate, args[0])
		if err != nil {
			return err
		}
		printSuccess("Applied: %s (%s)", rel.ID, rel.Status)
		return nil
	},
}

var inviteCmd = &cobra.Command{
	Use:   "invite <job-id> <candidate-id>",
	Short: "Invite a candidate to a job as a company",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		rel, err := createRelationship(cmd.Context(), client, "/invitations", args[1], args[0])
		if err != nil {
			return err
		}
		printSuccess("Invited: %s (%s)", rel.ID, rel.Status)
		return nil
	},
}

func init() {
	applyCmd.Flags().String("candidate", "", "candidate id (defaults to --as)")
}

func createRelationship(ctx context.Context, c *apiClient, path, candidateID, jobID string) (api.Relationship, error) {
	body := map[string]string{"job_id": jobID}
	if candidateID != "" {
		body["candidate_id"] = candidateID
	}
	resp, err := c.post(ctx, path, body)
	if err != nil {
		return api.Relationship{}, err
	}
	var rel api.Relationship
	if err := decodeJSON(resp, &rel); err != nil {
		return api.Relationship{}, err
	}
	return rel, nil
}

var respondCmd = &cobra.Command{
	Use:       "respond <relationship-id> <accepted|rejected>",
	Short:     "Accept or reject an application or invitation",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"accepted", "rejected"},
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		rel, err := transitionRelationship(cmd.Context(), client, args[0], "respond", map[string]string{"decision": args[1]})
		if err != nil {
			return err
		}
		printSuccess("Relationship %s is now %s", rel.ID, rel.Status)
		return nil
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review <relationship-id>",
	Short: "Mark a pending relationship as under review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		rel, err := transitionRelationship(cmd.Context(), client, args[0], "review", nil)
		if err != nil {
			return err
		}
		printSuccess("Relationship %s is now %s", rel.ID, rel.Status)
		return nil
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw <relationship-id>",
	Short: "Withdraw your own open application or invitation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		rel, err := transitionRelationship(cmd.Context(), client, args[0], "withdraw", nil)
		if err != nil {
			return err
		}
		printSuccess("Relationship %s withdrawn", rel.ID)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <relationship-id>",
	Short: "Remove a relationship record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/relationships/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Relationship %s removed", args[0])
		return nil
	},
}

func transitionRelationship(ctx context.Context, c *apiClient, id, verb string, body any) (api.Relationship, error) {
	resp, err := c.post(ctx, "/relationships/"+url.PathEscape(id)+"/"+verb, body)
	if err != nil {
		return api.Relationship{}, err
	}
	var rel api.Relationship
	if err := decodeJSON(resp, &rel); err != nil {
		return api.Relationship{}, err
	}
	return rel, nil
}

// --- relationships ---

var relationshipsCmd = &cobra.Command{
	Use:     "relationships",
	Aliases: []string{"rel"},
	Short:   "Inspect applications and invitations",
}

var relationshipsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List relationships for a candidate, a job or your company",
	Long: `List relationships, newest first.

Examples:
  jobmatch relationships list --candidate stu-42
  jobmatch relationships list --job job-7 --initiator invitation
  jobmatch --as acme-owner --role company relationships list --company`,
	RunE: func(cmd *cobra.Command, args []string) error {
		candidate, _ := cmd.Flags().GetString("candidate")
		job, _ := cmd.Flags().GetString("job")
		company, _ := cmd.Flags().GetBool("company")
		initiator, _ := cmd.Flags().GetString("initiator")

		path, err := relationshipsPath(candidate, job, company, initiator)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var rels []api.Relationship
		if err := decodeJSON(resp, &rels); err != nil {
			return err
		}
		if len(rels) == 0 {
			printWarning("No relationships found")
			return nil
		}
		return printRelationships(os.Stdout, rels)
	},
}

var relationshipsShowCmd = &cobra.Command{
	Use:   "show <relationship-id>",
	Short: "Show one relationship as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/relationships/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var rel api.Relationship
		if err := decodeJSON(resp, &rel); err != nil {
			return err
		}
		return printJSON(os.Stdout, rel)
	},
}

func init() {
	relationshipsListCmd.Flags().String("candidate", "", "list relationships of this candidate")
	relationshipsListCmd.Flags().String("job", "", "list relationships of this job")
	relationshipsListCmd.Flags().Bool("company", false, "list relationships across your company's jobs")
	relationshipsListCmd.Flags().String("initiator", "", "filter: candidate|company (or application|invitation)")
	relationshipsCmd.AddCommand(relationshipsListCmd)
	relationshipsCmd.AddCommand(relationshipsShowCmd)
}

// relationshipsPath picks the list endpoint for exactly one scope flag.
func relationshipsPath(candidate, job string, company bool, initiator string) (string, error) {
	var path string
	scopes := 0
	if candidate != "" {
		path = "/candidates/" + url.PathEscape(candidate) + "/relationships"
		scopes++
	}
	if job != "" {
		path = "/jobs/" + url.PathEscape(job) + "/relationships"
		scopes++
	}
	if company {
		path = "/companies/me/relationships"
		scopes++
	}
	if scopes != 1 {
		return "", fmt.Errorf("exactly one of --candidate, --job or --company is required")
	}
	if initiator != "" {
		path += "?initiator=" + url.QueryEscape(initiator)
	}
	return path, nil
}

func printRelationships(w io.Writer, rels []api.Relationship) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tCANDIDATE\tJOB\tSTATUS\tUPDATED")
	for _, r := range rels {
		job := r.JobID
		if r.JobTitle != "" {
			job = fmt.Sprintf("%s (%s)", r.JobID, r.JobTitle)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Type, r.CandidateID, job, colorizeStatus(r.Status), r.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

// --- suggestions ---

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Rank candidates for a job, or jobs for a candidate",
}

var suggestCandidatesCmd = &cobra.Command{
	Use:   "candidates <job-id>",
	Short: "Suggest open-to-work candidates for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var out []matching.CandidateSuggestion
		if err := fetchSuggestions(cmd.Context(), client, "/jobs/"+url.PathEscape(args[0])+"/suggestions", limit, &out); err != nil {
			return err
		}
		if len(out) == 0 {
			printWarning("No candidates to suggest yet")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SCORE\tCANDIDATE\tNAME\tSKILLS")
		for _, s := range out {
			fmt.Fprintf(tw, "%.3f\t%s\t%s\t%s\n", s.Score, s.Candidate.ID, s.Candidate.Name, truncate(s.Candidate.Skills, 60))
		}
		return tw.Flush()
	},
}

var suggestJobsCmd = &cobra.Command{
	Use:   "jobs <candidate-id>",
	Short: "Suggest active jobs for a candidate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var out []matching.JobSuggestion
		if err := fetchSuggestions(cmd.Context(), client, "/candidates/"+url.PathEscape(args[0])+"/suggestions", limit, &out); err != nil {
			return err
		}
		if len(out) == 0 {
			printWarning("No jobs to suggest yet")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SCORE\tJOB\tTITLE\tCOMPANY\tLOCATION")
		for _, s := range out {
			fmt.Fprintf(tw, "%.3f\t%s\t%s\t%s\t%s\n", s.Score, s.Job.ID, s.Job.Title, s.Job.CompanyName, s.Job.Location)
		}
		return tw.Flush()
	},
}

func init() {
	suggestCandidatesCmd.Flags().Int("limit", matching.DefaultLimit, "maximum number of suggestions")
	suggestJobsCmd.Flags().Int("limit", matching.DefaultLimit, "maximum number of suggestions")
	suggestCmd.AddCommand(suggestCandidatesCmd)
	suggestCmd.AddCommand(suggestJobsCmd)
}

func fetchSuggestions(ctx context.Context, c *apiClient, path string, limit int, out any) error {
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	return decodeJSON(resp, out)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// --- candidate ---

var candidateCmd = &cobra.Command{
	Use:   "candidate",
	Short: "Manage candidate profiles",
}

var candidateShowCmd = &cobra.Command{
	Use:   "show <candidate-id>",
	Short: "Show a candidate profile as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/candidates/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var c api.Candidate
		if err := decodeJSON(resp, &c); err != nil {
			return err
		}
		return printJSON(os.Stdout, c)
	},
}

var candidateImportCmd = &cobra.Command{
	Use:   "import <candidate-id>",
	Short: "Create or update a candidate profile, optionally from a résumé file",
	Long: `Create or update a candidate profile.

The résumé is parsed locally (PDF, plain text, Markdown or HTML) and its
text stored on the profile, where it contributes to the embedding. When a
Gemini API key is configured, profile fields left empty on the command line
are filled from the résumé; pass --no-classify to skip this.

Examples:
  jobmatch candidate import stu-42 --name "Ada" --skills "Go, SQL" --resume ./cv.pdf --open-to-work`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := candidateRequestFromFlags(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		c, err := putCandidate(cmd.Context(), client, args[0], req)
		if err != nil {
			return err
		}
		printSuccess("Saved candidate %s", c.ID)
		if !c.HasEmbedding {
			printStep("Embedding queued")
		}
		return nil
	},
}

func init() {
	f := candidateImportCmd.Flags()
	f.String("name", "", "display name")
	f.String("skills", "", "skills")
	f.String("major", "", "major or field of study")
	f.String("experiences", "", "work experience")
	f.String("projects", "", "projects")
	f.String("certifications", "", "certifications")
	f.String("resume", "", "path to a résumé file (.pdf, .txt, .md, .html)")
	f.Bool("open-to-work", false, "include in job suggestions (new profiles default to true)")
	f.Bool("no-classify", false, "do not fill empty fields from the résumé")
	candidateCmd.AddCommand(candidateShowCmd)
	candidateCmd.AddCommand(candidateImportCmd)
}

var profileFields = []string{"name", "skills", "major", "experiences", "projects", "certifications"}

var errClassifierOff = errors.New("resume classification is not configured")

// classifyResume extracts profile fields from résumé text. Tests replace it.
var classifyResume = func(ctx context.Context, text string) (resume.Profile, error) {
	cfg, err := config.Load()
	if err != nil {
		return resume.Profile{}, err
	}
	if cfg.Gemini.APIKey == "" {
		return resume.Profile{}, errClassifierOff
	}
	c, err := resume.NewClassifier(ctx, cfg.Gemini.APIKey, cfg.Gemini.GenerateModel)
	if err != nil {
		return resume.Profile{}, err
	}
	return c.Classify(ctx, text)
}

func candidateRequestFromFlags(ctx context.Context, cmd *cobra.Command) (map[string]any, error) {
	f := cmd.Flags()
	req := map[string]any{}
	for _, name := range profileFields {
		v, _ := f.GetString(name)
		req[name] = v
	}
	// Omitted means "new profiles are open, existing ones keep their flag".
	if f.Changed("open-to-work") {
		open, _ := f.GetBool("open-to-work")
		req["open_to_work"] = open
	}

	path, _ := f.GetString("resume")
	if path == "" {
		return req, nil
	}
	printStep("Extracting text from %s", path)
	text, err := resume.ExtractFile(path)
	if err != nil {
		return nil, err
	}
	req["resume_text"] = text

	if skip, _ := f.GetBool("no-classify"); skip {
		return req, nil
	}
	p, err := classifyResume(ctx, text)
	switch {
	case errors.Is(err, errClassifierOff):
	case err != nil:
		printWarning("Could not classify résumé, saving it as text only: %v", err)
	default:
		filled := 0
		for name, v := range p.Fields() {
			if v != "" && req[name] == "" {
				req[name] = v
				filled++
			}
		}
		if filled > 0 {
			printStep("Filled %d field(s) from the résumé", filled)
		}
	}
	return req, nil
}

func putCandidate(ctx context.Context, c *apiClient, id string, body map[string]any) (api.Candidate, error) {
	resp, err := c.put(ctx, "/candidates/"+url.PathEscape(id), body)
	if err != nil {
		return api.Candidate{}, err
	}
	var out api.Candidate
	if err := decodeJSON(resp, &out); err != nil {
		return api.Candidate{}, err
	}
	return out, nil
}

// --- job ---

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect job postings",
}

var jobShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job posting as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/jobs/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var j api.Job
		if err := decodeJSON(resp, &j); err != nil {
			return err
		}
		return printJSON(os.Stdout, j)
	},
}

func init() {
	jobCmd.AddCommand(jobShowCmd)
}

// --- reindex ---

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Embed every candidate and job missing a vector (admin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Reindexing (this may take a while)")
		rep, err := runReindex(cmd.Context(), client, force)
		if err != nil {
			return err
		}
		printSuccess("Embedded %d, skipped %d, failed %d", rep.Embedded, rep.Skipped, rep.Failed)
		if rep.Failed > 0 {
			printWarning("%d entities failed; check the server log", rep.Failed)
		}
		return nil
	},
}

func init() {
	reindexCmd.Flags().Bool("force", false, "re-embed entities that already have a vector")
}

func runReindex(ctx context.Context, c *apiClient, force bool) (embedding.Report, error) {
	path := "/admin/reindex"
	if force {
		path += "?force=true"
	}
	resp, err := c.post(ctx, path, nil)
	if err != nil {
		return embedding.Report{}, err
	}
	var rep embedding.Report
	if err := decodeJSON(resp, &rep); err != nil {
		return embedding.Report{}, err
	}
	return rep, nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
