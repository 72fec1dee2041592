package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/julianshen/coverclient/internal/devtools/changelog"
	"github.com/julianshen/coverclient/internal/devtools/copyright"
	"github.com/julianshen/coverclient/internal/devtools/licenses"
	"github.com/julianshen/coverclient/internal/devtools/release"
	"github.com/julianshen/coverclient/internal/integrations"
)

func devCmd(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Repository maintenance tools",
		Long:  "Copyright and license checks, changelog generation and the release workflow.",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", ".", "repository root")

	cmd.AddCommand(devCopyrightCmd(a, &dir))
	cmd.AddCommand(devLicensesCmd(a, &dir))
	cmd.AddCommand(devChangelogCmd(&dir))
	cmd.AddCommand(devReleaseCmd(a, &dir))
	return cmd
}

func devCopyrightCmd(a *app, dir *string) *cobra.Command {
	var (
		year   int
		holder string
	)
	cmd := &cobra.Command{
		Use:   "copyright",
		Short: "Check that every tracked file carries this year's copyright notice",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if year == 0 {
				year = time.Now().Year()
			}
			checker := copyright.NewChecker(*dir, integrations.NewGitRunner(*dir), copyright.Options{
				Year:   year,
				Holder: holder,
				Logger: a.logger,
			})
			if err := checker.Check(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All copyright notices are valid.")
			return nil
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "year the notices must cover (default: current year)")
	cmd.Flags().StringVar(&holder, "holder", copyright.DefaultHolder, "copyright holder")
	return cmd
}

func devLicensesCmd(a *app, dir *string) *cobra.Command {
	var gomod, file string
	scanner := func() (*licenses.Scanner, error) {
		cache, err := licenses.ModuleCache()
		if err != nil {
			return nil, err
		}
		return &licenses.Scanner{CacheDir: cache, Logger: a.logger}, nil
	}
	path := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(*dir, p)
	}

	cmd := &cobra.Command{
		Use:   "licenses",
		Short: "Check dependency licenses against the acceptable list",
	}
	cmd.PersistentFlags().StringVar(&gomod, "gomod", "go.mod", "go.mod file to read requirements from")
	cmd.PersistentFlags().StringVar(&file, "file", licenses.DefaultFile, "acceptable licenses file")

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Fail if a dependency uses a license not in the acceptable list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := scanner()
			if err != nil {
				return err
			}
			if err := s.Check(cmd.Context(), path(gomod), path(file)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All dependency licenses are acceptable.")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Write the acceptable list from the current dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := scanner()
			if err != nil {
				return err
			}
			inv, err := s.Generate(cmd.Context(), path(gomod), path(file))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d modules to %s\n", len(inv), path(file))
			return nil
		},
	})
	return cmd
}

func devChangelogCmd(dir *string) *cobra.Command {
	var (
		unreleased bool
		preview    bool
		opts       changelog.Options
	)
	cmd := &cobra.Command{
		Use:   "changelog",
		Short: "Print the changelog derived from the merge history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			versions, err := changelog.Build(cmd.Context(), integrations.NewGitRunner(*dir), opts)
			if err != nil {
				return err
			}
			var md string
			if unreleased {
				md = changelog.RenderEntries(changelog.Unreleased(versions))
			} else {
				md = changelog.Render(versions)
			}
			if preview && isTerminal(cmd.OutOrStdout()) {
				if md, err = changelog.Preview(md, terminalWidth(cmd.OutOrStdout(), 80)); err != nil {
					return err
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), md)
			return nil
		},
	}
	cmd.Flags().BoolVar(&unreleased, "unreleased", false, "print only the unreleased entries")
	cmd.Flags().BoolVar(&preview, "preview", false, "render the Markdown when printing to a terminal")
	cmd.Flags().StringVar(&opts.Develop, "develop", "develop", "development branch")
	cmd.Flags().StringVar(&opts.Master, "master", "master", "release branch")
	return cmd
}

func devReleaseCmd(a *app, dir *string) *cobra.Command {
	var (
		remote    string
		develop   string
		master    string
		token     string
		githubAPI string
	)
	releaser := func(needGitHub bool) (*release.Releaser, error) {
		r := &release.Releaser{
			Git:     integrations.NewGitRunner(*dir),
			Dir:     *dir,
			Remote:  remote,
			Develop: develop,
			Master:  master,
			Logger:  a.logger,
		}
		if !needGitHub {
			return r, nil
		}
		if token == "" {
			token = os.Getenv("GITHUB_TOKEN")
		}
		client, err := release.NewGitHubClient(token, githubAPI)
		if err != nil {
			return nil, err
		}
		r.PRs = client.PullRequests
		return r, nil
	}

	cmd := &cobra.Command{
		Use:   "release",
		Short: "Run the release workflow",
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&remote, "remote", "origin", "git remote to push to")
	pf.StringVar(&develop, "develop", "develop", "development branch")
	pf.StringVar(&master, "master", "master", "release branch")
	pf.StringVar(&token, "token", "", "GitHub token (default: $GITHUB_TOKEN)")
	pf.StringVar(&githubAPI, "github-api-url", "", "GitHub API base URL (default: api.github.com)")

	var (
		bumpType string
		force    bool
	)
	start := &cobra.Command{
		Use:   "start",
		Short: "Bump the version on a release branch and open its pull request",
		Long: `Bring master and develop up to date, bump the VERSION file on a new
release/x.y.z branch, push it and open a pull request into master whose
body lists the unreleased changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := releaser(true)
			if err != nil {
				return err
			}
			var opts release.StartOptions
			opts.Force = force
			if bumpType != "" {
				if opts.Bump, err = release.ParseBump(bumpType); err != nil {
					return err
				}
			} else {
				opts.Choose = promptBump
			}
			started, err := r.Start(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Release %s started: %s\n", started.Version, started.PullRequest.GetHTMLURL())
			return nil
		},
	}
	start.Flags().StringVar(&bumpType, "type", "", "release type: major, minor or patch (prompted when empty)")
	start.Flags().BoolVar(&force, "force", false, "release even when the changelog is empty")

	tag := &cobra.Command{
		Use:   "tag",
		Short: "Create and push the tag for the current version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := releaser(false)
			if err != nil {
				return err
			}
			name, err := r.Tag(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created tag for version %s\n", name)
			return nil
		},
	}

	postPR := &cobra.Command{
		Use:   "post-pr",
		Short: "Open the pull request merging the release back into develop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := releaser(true)
			if err != nil {
				return err
			}
			pr, err := r.PostRelease(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created pull request %s\n", pr.GetHTMLURL())
			return nil
		},
	}

	cmd.AddCommand(start, tag, postPR)
	return cmd
}

var errNotInteractive = errors.New("no terminal to prompt for the release type, pass --type")

func promptBump(current *semver.Version) (release.Bump, error) {
	if !isTerminal(os.Stdin) {
		return "", errNotInteractive
	}
	choice := string(release.Patch)
	opts := make([]huh.Option[string], 0, len(release.Bumps))
	for _, b := range release.Bumps {
		opts = append(opts, huh.NewOption(capitalize(string(b)), string(b)))
	}
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(fmt.Sprintf("Current version is %s. What type of release is this?", current)).
			Options(opts...).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("prompt release type: %w", err)
	}
	return release.ParseBump(choice)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
