package sqlstore

import "context"

// Reset empties every table so container-backed tests can share a database.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"chat_message", "chat_summary", "chat_session"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

var Rebind = func(dialectName, query string) string {
	d, err := dialectFor(dialectName)
	if err != nil {
		panic(err)
	}
	return d.rebind(query)
}
