package imagecache

import "context"

// PreloadProgressFunc observes a preload batch after each finished
// task.
type PreloadProgressFunc func(succeeded, finished, total int)

// PreloadCompletionFunc observes a preload batch once every task
// finished.
type PreloadCompletionFunc func(succeeded, total int)

// Preload warms the caches for locators without delivering payloads to
// the caller. Any previously running preload batch is cancelled first;
// an empty list returns immediately without callbacks. progress runs
// after every finished task, completion once the whole batch finished.
// Tasks cancelled mid-batch never tally, so a superseded batch's
// completion never fires.
func (m *Manager) Preload(ctx context.Context, locators []string, opts FetchOptions, progress PreloadProgressFunc, completion PreloadCompletionFunc) []*Task {
	m.CancelPreloading()
	if len(locators) == 0 {
		return nil
	}

	total := len(locators)
	// Tallies are only touched on the delivery worker, which already
	// serializes completions.
	var succeeded, finished int
	tally := func(err error) {
		finished++
		if err == nil {
			succeeded++
		}
		if progress != nil {
			progress(succeeded, finished, total)
		}
		if finished == total && completion != nil {
			completion(succeeded, total)
		}
	}

	opts.Preload = true
	tasks := make([]*Task, 0, total)
	for _, locator := range locators {
		t, err := m.Fetch(ctx, locator, opts, nil, nil, func(res Result) {
			tally(res.Err)
		})
		if err != nil {
			// The task never started; count it as failed so the
			// batch still closes.
			failErr := err
			_ = m.deliver.Submit(func() { tally(failErr) })
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks
}
