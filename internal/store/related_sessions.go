package store

import "fmt"

// RecordRelatedSession denormalizes a non-primary agent session (enrich,
// reevaluate, split, generate) for UI display only; it never feeds back
// into control flow.
func (s *Store) RecordRelatedSession(nodeID, kind, sessionID string) error {
	_, err := s.db.Exec(`
		INSERT INTO related_sessions (id, node_id, kind, session_id) VALUES (?, ?, ?, ?)`,
		NewSessionRowID(), nodeID, kind, sessionID,
	)
	if err != nil {
		return fmt.Errorf("record related session for node %s: %w", nodeID, err)
	}
	return nil
}
