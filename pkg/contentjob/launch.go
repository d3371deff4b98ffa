package contentjob

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/texttailor/pkg/ghost"
	"github.com/3leaps/texttailor/pkg/jobregistry"
	"github.com/3leaps/texttailor/pkg/match"
	"github.com/3leaps/texttailor/pkg/output"
	"github.com/3leaps/texttailor/pkg/snapshot"
)

// DefaultResources are the collections a request rewrites: one job for
// posts and a companion job for pages.
var DefaultResources = []ghost.Resource{ghost.ResourcePosts, ghost.ResourcePages}

// Options carries the collaborators shared by the jobs of one launch.
type Options struct {
	Config    Config
	Filter    *match.CompositeFilter
	Snapshots *snapshot.Snapshotter
	Output    *output.JSONLWriter
	Logger    *zap.Logger
}

// Runner builds a runner for one collection of client.
func (o Options) Runner(client *ghost.Client, resource ghost.Resource, req Request) *Runner {
	return New(client.Resource(resource), resource, req, o.Config).
		WithFilter(o.Filter).
		WithSnapshots(o.Snapshots).
		WithJSONL(o.Output).
		WithLogger(o.Logger)
}

// Launch starts one job per resource on reg and returns the job ids in the
// order of resources. Jobs run independently: a failure of one does not
// affect the others.
func Launch(reg *jobregistry.Registry, client *ghost.Client, req Request, opts Options, resources ...ghost.Resource) ([]string, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if len(resources) == 0 {
		resources = DefaultResources
	}
	for _, res := range resources {
		if !res.Valid() {
			return nil, fmt.Errorf("unsupported resource %q", res)
		}
	}

	ids := make([]string, 0, len(resources))
	for _, res := range resources {
		r := opts.Runner(client, res, req)
		id, err := reg.CreateE(r.Task(), jobregistry.WithName(string(res)))
		if err != nil {
			for _, started := range ids {
				reg.Cancel(started)
			}
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
