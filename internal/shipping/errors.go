package shipping

import "shipsync/internal/model"

// maxErrorDepth caps recursion into nested cause trees.
const maxErrorDepth = 5

// CollectErrorMessages flattens a webhook error tree into the distinct
// human-readable messages it contains, in first-seen order. Exact duplicate
// strings are dropped; recursion stops at maxErrorDepth.
func CollectErrorMessages(errs []model.WebhookError) []string {
	seen := map[string]bool{}
	out := []string{}
	var walk func(errs []model.WebhookError, depth int)
	walk = func(errs []model.WebhookError, depth int) {
		if depth > maxErrorDepth {
			return
		}
		for _, e := range errs {
			for _, msg := range []string{e.Message, e.Description} {
				if msg != "" && !seen[msg] {
					seen[msg] = true
					out = append(out, msg)
				}
			}
			if len(e.Cause) > 0 {
				walk(e.Cause, depth+1)
			}
		}
	}
	walk(errs, 1)
	return out
}
