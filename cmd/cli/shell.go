package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nickyhof/LayerDB"
	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/engine"
	"github.com/nickyhof/LayerDB/layered"
	"github.com/nickyhof/LayerDB/op"
)

// shellResult holds the rows of a query typed into the shell.
const shellResult = "layerdb_shell_result"

// Shell is an interactive SQL prompt scoped to one repository's schema.
type Shell struct {
	inst        *LayerDB.Instance
	repo        *op.Repository
	out         io.Writer
	history     []string
	historyFile string
}

func newSQLCmd(a *app) *cobra.Command {
	var (
		file string
		exec string
	)
	cmd := &cobra.Command{
		Use:   "sql REPO",
		Short: "Run SQL against a repository's checkout",
		Long: `Run SQL against a repository's checkout. Without -f or -e an interactive
shell is started; type .help for its commands.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := a.repository(cmd, args[0])
			if err != nil {
				return err
			}
			if err := repo.Init(cmd.Context()); err != nil {
				return err
			}
			sh := &Shell{inst: a.inst, repo: repo, out: cmd.OutOrStdout(), historyFile: getHistoryPath()}

			switch {
			case exec != "":
				return sh.execute(cmd.Context(), exec)
			case file != "":
				return sh.importFile(cmd.Context(), file)
			}
			sh.loadHistory()
			defer sh.saveHistory()
			printBanner(sh.out)
			sh.run(cmd.Context(), cmd.InOrStdin())
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "SQL file to execute (non-interactive)")
	cmd.Flags().StringVarP(&exec, "execute", "e", "", "statement to execute (non-interactive)")
	return cmd
}

func printBanner(w io.Writer) {
	fmt.Fprintln(w)
	bannerWidth := 39 // inner width of the banner box
	versionLine := fmt.Sprintf("LayerDB v%s", Version)
	padding := bannerWidth - len(versionLine) - 2 // -2 for "  " margins
	if padding < 0 {
		padding = 0
	}
	leftPad := padding / 2
	rightPad := padding - leftPad

	fmt.Fprintf(w, "%s%s╔═══════════════════════════════════════╗%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Fprintf(w, "%s%s║ %*s%s%*s ║%s\n", BoldColor, PromptColor, leftPad, "", versionLine, rightPad, "", ResetColor)
	fmt.Fprintf(w, "%s%s║   Version Control for Tabular Data    ║%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Fprintf(w, "%s%s╚═══════════════════════════════════════╝%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Type .help for commands, .quit to exit")
	fmt.Fprintln(w)
}

func (sh *Shell) run(ctx context.Context, in io.Reader) {
	reader := bufio.NewReader(in)
	var multiLineBuffer strings.Builder

	for {
		fmt.Fprint(sh.out, sh.getPrompt(multiLineBuffer.Len() > 0))

		input, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintf(sh.out, "\n%sGoodbye!%s\n", SuccessColor, ResetColor)
			return
		}

		input = strings.TrimSuffix(input, "\n")
		input = strings.TrimSuffix(input, "\r")

		if strings.TrimSpace(input) == "" {
			continue
		}

		// dot commands only outside a multi-line statement
		if multiLineBuffer.Len() == 0 && strings.HasPrefix(input, ".") {
			if !sh.handleCommand(ctx, input) {
				return
			}
			continue
		}

		// accumulate until a semicolon
		multiLineBuffer.WriteString(input)
		trimmed := strings.TrimSpace(multiLineBuffer.String())
		if !strings.HasSuffix(trimmed, ";") {
			multiLineBuffer.WriteString(" ")
			continue
		}

		stmt := strings.TrimSuffix(trimmed, ";")
		multiLineBuffer.Reset()
		if strings.TrimSpace(stmt) == "" {
			continue
		}

		sh.addToHistory(stmt + ";")
		if err := sh.execute(ctx, stmt); err != nil {
			fmt.Fprintf(sh.out, "%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		}
	}
}

func (sh *Shell) getPrompt(multiLine bool) string {
	if multiLine {
		return fmt.Sprintf("%s   ...>%s ", PromptColor, ResetColor)
	}
	return fmt.Sprintf("%slayerdb (%s)>%s ", PromptColor, sh.repo.Name, ResetColor)
}

// isQuery reports whether stmt returns rows.
func isQuery(stmt string) bool {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "VALUES":
		return true
	}
	return false
}

// execute runs stmt in the repository's schema. Queries are materialized
// into a scratch table so unqualified names resolve the same way as in
// other statements.
func (sh *Shell) execute(ctx context.Context, stmt string) error {
	adapter, schema := sh.repo.Adapter(), sh.repo.Schema()
	if !isQuery(stmt) {
		if err := adapter.RunIn(ctx, schema, stmt); err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%s✓ OK%s\n", SuccessColor, ResetColor)
		return nil
	}

	if err := adapter.RunIn(ctx, schema, "CREATE TABLE "+engine.Quote(shellResult)+" AS "+stmt); err != nil {
		return err
	}
	defer func() { _ = adapter.DeleteTable(context.Background(), schema, shellResult) }()

	res, err := adapter.Run(ctx, "SELECT * FROM "+engine.Qualify(schema, shellResult), nil, engine.ManyMany)
	if err != nil {
		return err
	}
	header := make(table.Row, 0, len(res.Columns))
	for _, col := range res.Columns {
		header = append(header, col)
	}
	t := newTable(sh.out, header...)
	for _, row := range res.Rows {
		t.AppendRow(table.Row(row))
	}
	t.Render()
	fmt.Fprintf(sh.out, "(%d rows)\n", len(res.Rows))
	return nil
}

// handleCommand runs a dot command. It returns false when the shell should
// exit.
func (sh *Shell) handleCommand(ctx context.Context, input string) bool {
	parts := strings.Fields(strings.TrimSpace(input))
	if len(parts) == 0 {
		return true
	}

	var err error
	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit", ".q":
		fmt.Fprintf(sh.out, "%sGoodbye!%s\n", SuccessColor, ResetColor)
		return false

	case ".help", ".h", ".?":
		sh.printHelp()

	case ".tables":
		err = sh.showTables(ctx)

	case ".status":
		err = sh.showStatus(ctx)

	case ".commit":
		var img core.Image
		img, err = sh.repo.Commit(ctx, op.WithComment(strings.Join(parts[1:], " ")))
		if err == nil {
			fmt.Fprintf(sh.out, "%s✓ Committed %s%s\n", SuccessColor, short(img.Hash), ResetColor)
		}

	case ".checkout":
		ref := core.TagLatest
		if len(parts) > 1 {
			ref = parts[1]
		}
		var img core.Image
		img, err = sh.repo.Checkout(ctx, ref, op.CheckoutOptions{})
		if err == nil {
			fmt.Fprintf(sh.out, "%s✓ Checked out %s%s\n", SuccessColor, short(img.Hash), ResetColor)
		}

	case ".log":
		var images []core.Image
		if images, err = sh.repo.Log(ctx, core.TagHead); err == nil {
			for _, img := range images {
				fmt.Fprintf(sh.out, "  %s  %s\n", short(img.Hash), truncate(img.Comment, 60))
			}
		}

	case ".show":
		if len(parts) < 2 {
			fmt.Fprintf(sh.out, "%s✗ Usage: .show <table>%s\n", ErrorColor, ResetColor)
			break
		}
		err = sh.showTable(ctx, parts[1])

	case ".use":
		if len(parts) < 2 {
			fmt.Fprintf(sh.out, "%s✗ Usage: .use <namespace/repository>%s\n", ErrorColor, ResetColor)
			break
		}
		var name core.RepositoryName
		if name, err = core.ParseRepository(parts[1]); err == nil {
			repo := sh.inst.Repository(name)
			if err = repo.Init(ctx); err == nil {
				sh.repo = repo
				fmt.Fprintf(sh.out, "%s✓ Using repository: %s%s\n", SuccessColor, name, ResetColor)
			}
		}

	case ".clear", ".cls":
		fmt.Fprint(sh.out, "\033[H\033[2J")

	case ".history":
		sh.printHistory()

	case ".version":
		fmt.Fprintf(sh.out, "LayerDB version %s\n", Version)

	case ".import":
		if len(parts) < 2 {
			fmt.Fprintf(sh.out, "%s✗ Usage: .import <file.sql>%s\n", ErrorColor, ResetColor)
			break
		}
		err = sh.importFile(ctx, parts[1])

	default:
		fmt.Fprintf(sh.out, "%s✗ Unknown command: %s (type .help for commands)%s\n", ErrorColor, parts[0], ResetColor)
	}

	if err != nil {
		fmt.Fprintf(sh.out, "%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
	}
	return true
}

func (sh *Shell) printHelp() {
	fmt.Fprintln(sh.out)
	fmt.Fprintf(sh.out, "%s%sSpecial Commands:%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Fprintln(sh.out, "  .help, .h          Show this help message")
	fmt.Fprintln(sh.out, "  .quit, .exit       Exit the shell")
	fmt.Fprintln(sh.out, "  .tables            List tables of the checkout")
	fmt.Fprintln(sh.out, "  .status            Show pending changes per table")
	fmt.Fprintln(sh.out, "  .show <table>      Print a table, layered or not")
	fmt.Fprintln(sh.out, "  .commit [message]  Record the checkout as a new image")
	fmt.Fprintln(sh.out, "  .checkout [ref]    Check out an image (default latest)")
	fmt.Fprintln(sh.out, "  .log               Show the history of HEAD")
	fmt.Fprintln(sh.out, "  .use <ns/repo>     Switch repository")
	fmt.Fprintln(sh.out, "  .import <file>     Execute SQL statements from a file")
	fmt.Fprintln(sh.out, "  .history           Show command history")
	fmt.Fprintln(sh.out, "  .clear             Clear the screen")
	fmt.Fprintln(sh.out, "  .version           Show version info")
	fmt.Fprintln(sh.out)
	fmt.Fprintln(sh.out, "SQL statements end with ';' and run in the repository's schema.")
	fmt.Fprintln(sh.out)
}

func (sh *Shell) showTables(ctx context.Context) error {
	tables, err := sh.repo.Adapter().Tables(ctx, sh.repo.Schema())
	if err != nil {
		return err
	}
	lazy, err := op.LayeredTables(ctx, sh.repo.Adapter(), sh.repo.Schema())
	if err != nil {
		return err
	}
	for name := range lazy {
		tables = append(tables, name)
	}
	sort.Strings(tables)
	for _, name := range tables {
		fmt.Fprintf(sh.out, "  %s\n", name)
	}
	return nil
}

func (sh *Shell) showStatus(ctx context.Context) error {
	tables, err := sh.repo.Status(ctx)
	if err != nil {
		return err
	}
	for _, st := range tables {
		fmt.Fprintf(sh.out, "  %-24s +%d ~%d -%d\n", st.Table, st.Pending.Inserted, st.Pending.Updated, st.Pending.Deleted)
	}
	return nil
}

func (sh *Shell) showTable(ctx context.Context, name string) error {
	res, err := sh.repo.Query(ctx, name, layered.Query{})
	if err != nil {
		return err
	}
	header := make(table.Row, 0, len(res.Columns))
	for _, col := range res.Columns {
		header = append(header, col.Name)
	}
	t := newTable(sh.out, header...)
	for _, row := range res.Rows {
		t.AppendRow(table.Row(row))
	}
	t.Render()
	return nil
}

func (sh *Shell) addToHistory(cmd string) {
	// skip repeats of the last command
	if len(sh.history) > 0 && sh.history[len(sh.history)-1] == cmd {
		return
	}
	sh.history = append(sh.history, cmd)

	if len(sh.history) > 1000 {
		sh.history = sh.history[len(sh.history)-1000:]
	}
}

func (sh *Shell) printHistory() {
	if len(sh.history) == 0 {
		fmt.Fprintln(sh.out, "No command history")
		return
	}

	start := 0
	if len(sh.history) > 20 {
		start = len(sh.history) - 20
	}
	for i := start; i < len(sh.history); i++ {
		fmt.Fprintf(sh.out, "  %3d  %s\n", i+1, sh.history[i])
	}
}

func getHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".layerdb_history")
}

func (sh *Shell) loadHistory() {
	if sh.historyFile == "" {
		return
	}

	file, err := os.Open(sh.historyFile)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		sh.history = append(sh.history, scanner.Text())
	}
}

func (sh *Shell) saveHistory() {
	if sh.historyFile == "" {
		return
	}

	file, err := os.Create(sh.historyFile)
	if err != nil {
		return
	}
	defer file.Close()

	start := 0
	if len(sh.history) > 1000 {
		start = len(sh.history) - 1000
	}
	for i := start; i < len(sh.history); i++ {
		_, _ = file.WriteString(sh.history[i] + "\n")
	}
}

// importFile executes the statements of a file, reporting each one. A failed
// statement does not stop the others; the summary error counts them.
func (sh *Shell) importFile(ctx context.Context, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	successCount, errorCount := 0, 0
	for i, stmt := range splitStatements(string(data)) {
		if err := sh.execute(ctx, stmt); err != nil {
			fmt.Fprintf(sh.out, "%s[%d] ✗ %s%s\n", ErrorColor, i+1, truncate(stmt, 50), ResetColor)
			fmt.Fprintf(sh.out, "      Error: %v\n", err)
			errorCount++
			continue
		}
		successCount++
	}

	fmt.Fprintf(sh.out, "\n%s✓ Import complete: %d succeeded, %d failed%s\n",
		SuccessColor, successCount, errorCount, ResetColor)
	if errorCount > 0 {
		return fmt.Errorf("%d statement(s) failed", errorCount)
	}
	return nil
}

// splitStatements splits SQL content into individual statements
func splitStatements(content string) []string {
	var statements []string
	var current strings.Builder
	inString := false
	stringChar := byte(0)

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if (ch == '\'' || ch == '"') && (i == 0 || content[i-1] != '\\') {
			if !inString {
				inString = true
				stringChar = ch
			} else if ch == stringChar {
				inString = false
			}
		}

		// line comments
		if !inString && ch == '-' && i+1 < len(content) && content[i+1] == '-' {
			for i < len(content) && content[i] != '\n' {
				i++
			}
			continue
		}

		if !inString && ch == ';' {
			stmt := strings.TrimSpace(current.String())
			if stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
			continue
		}

		current.WriteByte(ch)
	}

	// last statement without semicolon
	stmt := strings.TrimSpace(current.String())
	if stmt != "" {
		statements = append(statements, stmt)
	}

	return statements
}

// truncate shortens a string to max length with ellipsis
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
