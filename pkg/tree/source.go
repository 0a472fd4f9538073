package tree

import "context"

// Update is one change event. A non-nil Entry inserts or replaces the entry
// at Path; a nil Entry deletes it.
type Update struct {
	Path  Path
	Entry *Entry
}

// IsDelete reports whether u removes an entry.
func (u Update) IsDelete() bool {
	return u.Entry == nil
}

// Op returns "upsert" or "delete".
func (u Update) Op() string {
	if u.IsDelete() {
		return "delete"
	}
	return "upsert"
}

// Source produces the ordered stream of updates for a tree. The update
// channel is closed at end of stream. The error channel delivers at most one
// terminal error and is closed after the update channel.
type Source interface {
	Updates(ctx context.Context) (<-chan Update, <-chan error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (<-chan Update, <-chan error)

// Updates calls f.
func (f SourceFunc) Updates(ctx context.Context) (<-chan Update, <-chan error) {
	return f(ctx)
}

// SliceSource emits a fixed list of updates and then ends.
func SliceSource(updates ...Update) Source {
	return SourceFunc(func(ctx context.Context) (<-chan Update, <-chan error) {
		out := make(chan Update)
		errs := make(chan error, 1)
		go func() {
			defer close(errs)
			defer close(out)
			for _, u := range updates {
				select {
				case out <- u:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
		}()
		return out, errs
	})
}

// ChanSource forwards updates from ch until it is closed.
func ChanSource(ch <-chan Update) Source {
	return SourceFunc(func(ctx context.Context) (<-chan Update, <-chan error) {
		out := make(chan Update)
		errs := make(chan error, 1)
		go func() {
			defer close(errs)
			defer close(out)
			for {
				select {
				case u, ok := <-ch:
					if !ok {
						return
					}
					select {
					case out <- u:
					case <-ctx.Done():
						errs <- ctx.Err()
						return
					}
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
		}()
		return out, errs
	})
}
