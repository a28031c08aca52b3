// Package resources defines the provider read tasks quotaguard can register
// and builds them from configuration.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"quotaguard/internal/models"
	"quotaguard/internal/task"
	"quotaguard/internal/throttler"
)

// Path template parameters.
const (
	ParamSubscription  = "subscription"
	ParamLocation      = "location"
	ParamResourceGroup = "resource_group"
)

// Resource is the common projection of an ARM resource.
type Resource struct {
	ID         string            `json:"id,omitempty"`
	Name       string            `json:"name,omitempty"`
	Type       string            `json:"type,omitempty"`
	Location   string            `json:"location,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
	Properties json.RawMessage   `json:"properties,omitempty"`
}

// Lister reads every page of an ARM collection.
type Lister interface {
	List(ctx context.Context, path string, calls task.CallRecorder) ([]json.RawMessage, error)
}

// Descriptor describes one kind of read task.
type Descriptor struct {
	Name          string
	ExecutionType throttler.ExecutionType
	Path          string
}

var descriptors = []Descriptor{
	{Name: "FetchResourceGroups", ExecutionType: throttler.ExecutionPeriodical, Path: "/subscriptions/{subscription}/resourcegroups"},
	{Name: "FetchVirtualMachines", ExecutionType: throttler.ExecutionPeriodical, Path: "/subscriptions/{subscription}/providers/Microsoft.Compute/virtualMachines"},
	{Name: "FetchInstances", ExecutionType: throttler.ExecutionPeriodical, Path: "/subscriptions/{subscription}/resourceGroups/{resource_group}/providers/Microsoft.Compute/virtualMachines"},
	{Name: "FetchCustomImages", ExecutionType: throttler.ExecutionPeriodical, Path: "/subscriptions/{subscription}/providers/Microsoft.Compute/images"},
	{Name: "FetchStorageAccounts", ExecutionType: throttler.ExecutionPeriodical, Path: "/subscriptions/{subscription}/providers/Microsoft.Storage/storageAccounts"},
	{Name: "FetchVirtualMachineSizes", ExecutionType: throttler.ExecutionOnDemand, Path: "/subscriptions/{subscription}/providers/Microsoft.Compute/locations/{location}/vmSizes"},
	{Name: "FetchSubscriptions", ExecutionType: throttler.ExecutionOnDemand, Path: "/subscriptions"},
	{Name: "FetchLocations", ExecutionType: throttler.ExecutionOnDemand, Path: "/subscriptions/{subscription}/locations"},
	{Name: "FetchNetworks", ExecutionType: throttler.ExecutionOnDemand, Path: "/subscriptions/{subscription}/providers/Microsoft.Network/virtualNetworks"},
	{Name: "FetchServices", ExecutionType: throttler.ExecutionOnDemand, Path: "/subscriptions/{subscription}/providers"},
}

// Descriptors returns all known descriptors in declaration order.
func Descriptors() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}

// Lookup finds a descriptor by name.
func Lookup(name string) (Descriptor, bool) {
	for _, d := range descriptors {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Validate checks that every configured task names a known descriptor and
// that its path parameters resolve.
func Validate(tasks []models.TaskConfig, provider models.ProviderConfig) error {
	for _, tc := range tasks {
		d, ok := Lookup(tc.Name)
		if !ok {
			return fmt.Errorf("task %s: unknown task name %q", tc.ID, tc.Name)
		}
		if _, err := d.ResolvePath(params(tc, provider)); err != nil {
			return fmt.Errorf("task %s: %w", tc.ID, err)
		}
	}
	return nil
}

// ResolvePath substitutes {param} placeholders.
func (d Descriptor) ResolvePath(p map[string]string) (string, error) {
	path := d.Path
	var missing []string
	for {
		start := strings.IndexByte(path, '{')
		if start < 0 {
			break
		}
		end := strings.IndexByte(path[start:], '}')
		if end < 0 {
			return "", fmt.Errorf("malformed path template %q", d.Path)
		}
		name := path[start+1 : start+end]
		value, ok := p[name]
		if !ok || value == "" {
			missing = append(missing, name)
			value = ""
		}
		path = path[:start] + value + path[start+end+1:]
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("%s requires parameters: %s", d.Name, strings.Join(missing, ", "))
	}
	return path, nil
}

// Query returns the task query reading this descriptor's collection.
func (d Descriptor) Query(lister Lister, path string) task.Query[[]Resource] {
	return func(ctx context.Context, calls task.CallRecorder) ([]Resource, error) {
		items, err := lister.List(ctx, path, calls)
		if err != nil {
			return nil, err
		}
		out := make([]Resource, 0, len(items))
		for _, raw := range items {
			var r Resource
			if err := json.Unmarshal(raw, &r); err != nil {
				return nil, fmt.Errorf("decoding %s item: %w", d.Name, err)
			}
			out = append(out, r)
		}
		return out, nil
	}
}

// BuildOptions tunes the tasks created by Build.
type BuildOptions struct {
	HistoryRetention time.Duration
	TaskOptions      []task.Option
}

// Build creates one task per configuration entry.
func Build(tasks []models.TaskConfig, provider models.ProviderConfig, lister Lister, opts BuildOptions) ([]*task.Task[[]Resource], error) {
	out := make([]*task.Task[[]Resource], 0, len(tasks))
	for _, tc := range tasks {
		d, ok := Lookup(tc.Name)
		if !ok {
			return nil, fmt.Errorf("task %s: unknown task name %q", tc.ID, tc.Name)
		}
		path, err := d.ResolvePath(params(tc, provider))
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", tc.ID, err)
		}
		executionType := d.ExecutionType
		if tc.ExecutionType != "" {
			parsed, ok := throttler.ParseExecutionType(tc.ExecutionType)
			if !ok {
				return nil, fmt.Errorf("task %s: invalid execution type %q", tc.ID, tc.ExecutionType)
			}
			executionType = parsed
		}

		t, err := task.New(task.Config{
			ID:               tc.ID,
			ExecutionType:    executionType,
			TTL:              tc.TTL,
			HistoryRetention: opts.HistoryRetention,
		}, d.Query(lister, path), opts.TaskOptions...)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func params(tc models.TaskConfig, provider models.ProviderConfig) map[string]string {
	p := map[string]string{
		ParamSubscription:  provider.SubscriptionID,
		ParamLocation:      provider.Location,
		ParamResourceGroup: provider.ResourceGroup,
	}
	for k, v := range tc.Params {
		p[k] = v
	}
	return p
}
