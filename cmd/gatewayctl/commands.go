package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bjaus/gateway"
	"github.com/bjaus/gateway/s3tree"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// verbs every stand-in module serves.
var verbs = []string{"get", "head", "post", "put", "patch", "delete", "options"}

// echo stands in for every handler: it answers with what the router handed
// it.
func echo(_ context.Context, req *gateway.Request, res *gateway.Response) (*gateway.Response, error) {
	res.Body = map[string]any{
		"handler":    req.Handler,
		"method":     req.Method,
		"route":      req.Route,
		"pathParams": req.PathParams,
		"query":      req.Query,
		"body":       req.Body,
	}
	return res, nil
}

// echoLoader loads a module serving every verb with echo for any path.
func echoLoader() gateway.ModuleLoader {
	return gateway.ModuleLoaderFunc(func(context.Context, string) (gateway.Module, error) {
		m := gateway.Module{}
		for _, v := range verbs {
			m[v] = gateway.HandlerFunc(echo)
		}
		return m, nil
	})
}

// provider reads handler trees from --bucket when set, with credentials and
// region resolved the way the AWS CLI does, and from --root otherwise.
func (o *options) provider(ctx context.Context) (gateway.PathProvider, error) {
	if o.bucket == "" {
		return gateway.NewFSProvider(os.DirFS(o.root)), nil
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if o.region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(o.region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return s3tree.New(s3.NewFromConfig(awsCfg), o.bucket, s3tree.WithPrefix(o.prefix)), nil
}

// router builds a Router from the config file, with stand-in handlers.
func (o *options) router(ctx context.Context) (*gateway.Router, gateway.Config, error) {
	cfg, err := gateway.LoadConfig(o.configPath)
	if err != nil {
		return nil, cfg, err
	}
	provider, err := o.provider(ctx)
	if err != nil {
		return nil, cfg, err
	}
	r := gateway.New(cfg,
		gateway.WithLogger(o.logger),
		gateway.WithPathProvider(provider),
		gateway.WithModuleLoader(echoLoader()),
	)
	if err := r.Err(); err != nil {
		return nil, cfg, err
	}
	return r, cfg, nil
}

func routes(ctx context.Context, r *gateway.Router) ([]string, error) {
	lister, ok := r.Resolver().(gateway.RouteLister)
	if !ok {
		return nil, errors.New("the configured resolver cannot list its routes")
	}
	return lister.Routes(ctx)
}

func checkCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and the handler tree",
		Long: `Validate the config file, load the schema document it names and walk
the whole handler tree, reporting the first problem found (a file and a
directory sharing a name, two path parameters in one directory, ...).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, cfg, err := opts.router(cmd.Context())
			if err != nil {
				return err
			}
			list, err := routes(cmd.Context(), r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d routes", opts.configPath, len(list))
			if cfg.CacheMode != "" {
				fmt.Fprintf(cmd.OutOrStdout(), ", cache %s", cfg.CacheMode)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}

func routesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the route templates the handler tree serves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, _, err := opts.router(cmd.Context())
			if err != nil {
				return err
			}
			list, err := routes(cmd.Context(), r)
			if err != nil {
				return err
			}
			for _, route := range list {
				fmt.Fprintln(cmd.OutOrStdout(), route)
			}
			return nil
		},
	}
}

// resolution is the YAML report of the resolve command.
type resolution struct {
	Route   string            `yaml:"route"`
	Handler string            `yaml:"handler"`
	Params  map[string]string `yaml:"params,omitempty"`
}

func resolveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <route>",
		Short: "Show which handler module a route resolves to",
		Example: `  gatewayctl resolve /v1/users/42
  gatewayctl resolve orgs/acme/teams --config staging.yml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, cfg, err := opts.router(cmd.Context())
			if err != nil {
				return err
			}
			req := gateway.NewRequest(gateway.Event{Method: "get", Path: args[0]}, cfg.BasePath)
			res, err := r.Resolver().Resolve(cmd.Context(), req)
			if err != nil {
				return err
			}
			if !res.Found() {
				return fmt.Errorf("no handler for route %q", req.Route)
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			if err := enc.Encode(resolution{Route: req.Route, Handler: res.ModulePath, Params: res.Params}); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func invokeCmd(opts *options) *cobra.Command {
	var (
		method  string
		path    string
		headers []string
		data    string
	)

	cmd := &cobra.Command{
		Use:   "invoke [envelope.json]",
		Short: "Run an event through the router",
		Long: `Run an event through the router and print the result. Every handler is
replaced by one that echoes the request it received, so routing, hooks
and validation are exercised without the handlers' side effects.

The event is either a raw gateway envelope read from a file ("-" for
stdin) or built from --method, --path, --header and --data.`,
		Example: `  gatewayctl invoke testdata/rest-event.json
  gatewayctl invoke --method POST --path /v1/users --header content-type:application/json --data '{"name":"ada"}'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, _, err := opts.router(cmd.Context())
			if err != nil {
				return err
			}

			var result gateway.Result
			if len(args) == 1 {
				raw, err := readInput(cmd.InOrStdin(), args[0])
				if err != nil {
					return err
				}
				if result, err = r.Handle(cmd.Context(), raw); err != nil {
					return err
				}
			} else {
				if path == "" {
					return errors.New("an envelope file or --path is required")
				}
				ev, err := buildEvent(method, path, headers, data)
				if err != nil {
					return err
				}
				result = r.Route(cmd.Context(), ev)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVarP(&method, "method", "X", "GET", "request method")
	cmd.Flags().StringVarP(&path, "path", "p", "", "request path")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header as name:value (repeatable)")
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")

	return cmd
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}

func buildEvent(method, path string, headers []string, data string) (gateway.Event, error) {
	ev := gateway.Event{Method: method, Path: path, Headers: map[string]string{}}
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return ev, fmt.Errorf("header %q is not name:value", h)
		}
		ev.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &ev.Body); err != nil {
			return ev, fmt.Errorf("parse --data: %w", err)
		}
	}
	return ev, nil
}
