package orchestrator

// paramFilters is the universal per-step config parameter filter table
// (spec §6.4): only keys listed here reach a step's Options, except for
// the two steps marked with unknown passthrough, which forward anything
// not otherwise recognized too.
var paramFilters = map[string]struct {
	accept     map[string]bool
	passUnknown bool
}{
	"filesystem": {
		accept:      toSet("ignore_patterns", "max_depth", "include_extensions", "concurrency", "job_id"),
		passUnknown: true,
	},
	"ast": {
		accept:      toSet("image", "timeout", "ignore_patterns", "incremental", "job_id"),
		passUnknown: true,
	},
	"summarizer": {
		accept: toSet("max_concurrency", "max_tokens_per_file", "timeout", "incremental", "ignore_patterns", "job_id"),
	},
	"docgrapher": {
		accept: toSet("parse_docstrings", "use_llm", "timeout", "incremental", "ignore_patterns", "job_id"),
	},
}

func toSet(keys ...string) map[string]bool {
	s := make(map[string]bool, len(keys))
	for _, k := range keys {
		s[k] = true
	}
	return s
}

// filterOptions keeps only the options a given step name recognizes,
// passing unrecognized keys through only for steps the table marks as
// such. Steps absent from the table (a custom, non-built-in step) get
// everything forwarded unfiltered.
func filterOptions(stepName string, opts map[string]interface{}) map[string]interface{} {
	filter, ok := paramFilters[stepName]
	if !ok {
		return opts
	}

	out := make(map[string]interface{}, len(opts))
	for k, v := range opts {
		if filter.accept[k] || filter.passUnknown {
			out[k] = v
		}
	}
	return out
}
