package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nexuslearn/nexuslink/internal/classroom"
)

var coursesCmd = &cobra.Command{
	Use:   "courses [course-id]",
	Short: "List Google Classroom data for a linked account",
	Long: `List courses, or the coursework, announcements, or materials of one course.

The access token comes from --token or NEXUSLINK_ACCESS_TOKEN and must be
a Google token; other providers have no Classroom access.

Examples:
  nexuslink courses --filter algebra
  nexuslink courses 123456 --kind coursework
  nexuslink courses 123456 --kind announcements --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCourses,
}

var (
	coursesToken    string
	coursesProvider string
	coursesKind     string
	coursesFilter   string
	coursesJSON     bool
)

func init() {
	rootCmd.AddCommand(coursesCmd)

	coursesCmd.Flags().StringVar(&coursesToken, "token", "", "Google access token (default $NEXUSLINK_ACCESS_TOKEN)")
	coursesCmd.Flags().StringVar(&coursesProvider, "provider", classroom.ProviderGoogle, "Provider that issued the token")
	coursesCmd.Flags().StringVar(&coursesKind, "kind", "coursework", "Per-course resource: coursework, announcements, or materials")
	coursesCmd.Flags().StringVar(&coursesFilter, "filter", "", "Only courses whose name or section contains this text")
	coursesCmd.Flags().BoolVar(&coursesJSON, "json", false, "Output as JSON")
}

func runCourses(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	token := coursesToken
	if token == "" {
		token = os.Getenv("NEXUSLINK_ACCESS_TOKEN")
	}
	session := classroom.Session{AccessToken: token, Provider: coursesProvider}
	if !classroom.HasAccess(session) {
		return classroom.ErrNotLinked
	}

	client := classroom.New(classroom.Config{
		BaseURL:  cfg.Classroom.BaseURL,
		CacheTTL: cfg.CacheTTL(),
		Logger:   newLogger(),
	})

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		courses, err := client.ListCourses(ctx, session)
		if err != nil {
			return err
		}
		courses = classroom.FilterCoursesByName(courses, coursesFilter)
		if coursesJSON {
			return writeJSON(out, courses)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSECTION\tSTATE")
		for _, c := range courses {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Section, c.CourseState)
		}
		return tw.Flush()
	}

	courseID := args[0]
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	switch coursesKind {
	case "coursework":
		work, err := client.ListCourseWork(ctx, session, courseID)
		if err != nil {
			return err
		}
		if coursesJSON {
			return writeJSON(out, work)
		}
		fmt.Fprintln(tw, "ID\tTITLE\tTYPE\tDUE")
		for _, w := range work {
			due := "-"
			if w.DueDate != nil {
				due = fmt.Sprintf("%04d-%02d-%02d", w.DueDate.Year, w.DueDate.Month, w.DueDate.Day)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", w.ID, w.Title, w.WorkType, due)
		}
	case "announcements":
		anns, err := client.ListAnnouncements(ctx, session, courseID)
		if err != nil {
			return err
		}
		if coursesJSON {
			return writeJSON(out, anns)
		}
		fmt.Fprintln(tw, "ID\tCREATED\tTEXT")
		for _, a := range anns {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", a.ID, a.CreationTime.Format("2006-01-02"), firstLine(a.Text, 60))
		}
	case "materials":
		mats, err := client.ListMaterials(ctx, session, courseID)
		if err != nil {
			return err
		}
		if coursesJSON {
			return writeJSON(out, mats)
		}
		fmt.Fprintln(tw, "ID\tTITLE\tSTATE")
		for _, m := range mats {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", m.ID, m.Title, m.State)
		}
	default:
		return fmt.Errorf("invalid --kind %q: use coursework, announcements, or materials", coursesKind)
	}
	return tw.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstLine(s string, max int) string {
	for i, r := range s {
		if r == '\n' {
			s = s[:i]
			break
		}
	}
	if runes := []rune(s); len(runes) > max {
		return string(runes[:max-3]) + "..."
	}
	return s
}
