package cmd

import (
	"fmt"
	"os"

	"github.com/antchfx/htmlquery"
	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/scalpel-replay/internal/config"
	"github.com/xkilldash9x/scalpel-replay/internal/observability"
	"github.com/xkilldash9x/scalpel-replay/internal/selector"
)

// newGenerateCmd creates the `generate` command, which prints the selector
// target for one element of a saved HTML page.
func newGenerateCmd(a *app) *cobra.Command {
	var (
		htmlPath      string
		cssSel        string
		xpathExpr     string
		shadowHosts   []string
		frameSelector string
		extended      bool
		strategies    []string
	)

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generates ranked selector candidates for an element in an HTML document",
		Example: `  scalpel-replay generate --html page.html --css "#submit"
  scalpel-replay generate --html widget.html --xpath "//button[1]" --frame-selector "#pay" --extended`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (cssSel == "") == (xpathExpr == "") {
				return fmt.Errorf("exactly one of --css or --xpath is required")
			}
			doc, err := loadDocument(htmlPath)
			if err != nil {
				return err
			}
			el, err := findElement(doc, shadowHosts, cssSel, xpathExpr)
			if err != nil {
				return err
			}

			opts := generateOptions(a.config().Selector())
			opts.FrameSelector = frameSelector
			if len(strategies) > 0 {
				opts.Strategies = strategies
			}

			gen := selector.NewGenerator(observability.GetLogger())
			target := gen.Generate(el, opts)
			if extended {
				target = gen.GenerateExtended(el, opts)
			}
			if target.Selector == "" {
				return fmt.Errorf("no selector could be generated for the element")
			}
			return writeJSON(cmd, target)
		},
	}

	f := generateCmd.Flags()
	f.StringVar(&htmlPath, "html", "", "Path to the HTML document")
	f.StringVar(&cssSel, "css", "", "CSS selector picking the element")
	f.StringVar(&xpathExpr, "xpath", "", "XPath expression picking the element")
	f.StringSliceVar(&shadowHosts, "shadow-host", nil, "CSS selectors of the shadow hosts enclosing the element, outermost first")
	f.StringVar(&frameSelector, "frame-selector", "", "Selector of the iframe holding the document, for composite output")
	f.BoolVar(&extended, "extended", false, "Include fingerprint, DOM path and shadow host chain")
	f.StringSliceVar(&strategies, "strategy", nil, "Restrict generation to these strategies. (Overrides config/env)")
	_ = generateCmd.MarkFlagRequired("html")

	return generateCmd
}

func generateOptions(c config.SelectorConfig) selector.GenerateOptions {
	opts := selector.DefaultGenerateOptions()
	opts.MaxCandidates = c.MaxCandidates
	opts.MaxTextLength = c.MaxTextLength
	opts.MaxPathDepth = c.MaxPathDepth
	if len(c.TestIDAttributes) > 0 {
		opts.TestIDAttributes = c.TestIDAttributes
	}
	opts.Strategies = c.Strategies
	opts.IncludeXPath = c.IncludeXPath
	return opts
}

func loadDocument(path string) (*html.Node, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening HTML document: %w", err)
	}
	defer file.Close()
	doc, err := htmlquery.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML document %s: %w", path, err)
	}
	return doc, nil
}

// findElement resolves the one element named by cssSel or xpathExpr, searching
// inside the shadow roots of hosts in order.
func findElement(doc *html.Node, hosts []string, cssSel, xpathExpr string) (*html.Node, error) {
	scope := doc
	for _, hostSel := range hosts {
		host, err := single(scope, hostSel, "")
		if err != nil {
			return nil, fmt.Errorf("shadow host %q: %w", hostSel, err)
		}
		root := selector.ShadowRootOf(host)
		if root == nil {
			return nil, fmt.Errorf("shadow host %q has no shadow root", hostSel)
		}
		scope = root
	}
	return single(scope, cssSel, xpathExpr)
}

func single(scope *html.Node, cssSel, xpathExpr string) (*html.Node, error) {
	var matches []*html.Node
	if cssSel != "" {
		m, err := selector.CompileCSS(cssSel)
		if err != nil {
			return nil, err
		}
		matches = selector.QueryScoped(scope, m)
	} else {
		var err error
		if matches, err = selector.QueryXPath(scope, xpathExpr); err != nil {
			return nil, err
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no element matches")
	case 1:
		return matches[0], nil
	}
	return nil, fmt.Errorf("%d elements match, refine the selector", len(matches))
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
