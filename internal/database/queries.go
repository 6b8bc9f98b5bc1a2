package database

// Conversation queries
const (
	UpsertConversationQuery = `
		INSERT INTO conversations (contact_identifier, contact_name)
		VALUES (?, ?)
		ON CONFLICT(contact_identifier) DO UPDATE SET
			contact_name = COALESCE(excluded.contact_name, contact_name),
			updated_at = CURRENT_TIMESTAMP
	`

	SelectConversationByContactQuery = `
		SELECT id, contact_identifier, contact_name, assigned_agent_ref,
		       last_message_at, last_message_text, unread_count,
		       created_at, updated_at
		FROM conversations
		WHERE contact_identifier = ?
	`

	SelectConversationByIDQuery = `
		SELECT id, contact_identifier, contact_name, assigned_agent_ref,
		       last_message_at, last_message_text, unread_count,
		       created_at, updated_at
		FROM conversations
		WHERE id = ?
	`

	SelectConversationsQuery = `
		SELECT id, contact_identifier, contact_name, assigned_agent_ref,
		       last_message_at, last_message_text, unread_count,
		       created_at, updated_at
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?
	`

	TouchConversationInboundQuery = `
		UPDATE conversations
		SET last_message_at = CASE WHEN ? > last_message_at THEN ? ELSE last_message_at END,
		    last_message_text = CASE WHEN ? > last_message_at THEN ? ELSE last_message_text END,
		    unread_count = unread_count + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	TouchConversationOutboundQuery = `
		UPDATE conversations
		SET last_message_at = CASE WHEN ? > last_message_at THEN ? ELSE last_message_at END,
		    last_message_text = CASE WHEN ? > last_message_at THEN ? ELSE last_message_text END,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	MarkConversationReadQuery = `
		UPDATE conversations
		SET unread_count = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	AssignConversationQuery = `
		UPDATE conversations
		SET assigned_agent_ref = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	DeleteConversationQuery = `
		DELETE FROM conversations WHERE id = ?
	`

	CleanupConversationsQuery = `
		DELETE FROM conversations
		WHERE last_message_at < datetime('now', '-' || ? || ' days')
	`
)

// Message queries
const (
	InsertMessageQuery = `
		INSERT OR IGNORE INTO messages (
			conversation_id, external_message_id, author_type,
			content, media_ref, timestamp
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	InsertOutboundMessageQuery = `
		INSERT INTO messages (
			conversation_id, external_message_id, author_type,
			content, media_ref, timestamp
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	SelectMessageByIDQuery = `
		SELECT id, conversation_id, external_message_id, author_type,
		       content, media_ref, processed, ai_reply_text,
		       timestamp, created_at
		FROM messages
		WHERE id = ?
	`

	SelectRecentMessagesQuery = `
		SELECT id, conversation_id, external_message_id, author_type,
		       content, media_ref, processed, ai_reply_text,
		       timestamp, created_at
		FROM (
			SELECT id, conversation_id, external_message_id, author_type,
			       content, media_ref, processed, ai_reply_text,
			       timestamp, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		)
		ORDER BY timestamp ASC, id ASC
	`

	MarkMessageProcessedQuery = `
		UPDATE messages
		SET processed = 1, ai_reply_text = ?
		WHERE id = ? AND processed = 0
	`
)

// Directory queries
const (
	SelectClientByPhoneQuery = `
		SELECT id, phone_number, full_name, practice_ref, created_at
		FROM clients
		WHERE phone_number = ?
	`

	InsertClientQuery = `
		INSERT INTO clients (phone_number, full_name) VALUES (?, ?)
	`

	SelectPracticeQuery = `
		SELECT id, name, address, phone, info
		FROM practices
		ORDER BY id
		LIMIT 1
	`

	InsertAppointmentQuery = `
		INSERT INTO appointments (client_id, starts_at, duration_min, reason)
		VALUES (?, ?, ?, ?)
	`

	SelectAppointmentCandidatesQuery = `
		SELECT id, client_id, starts_at, duration_min, reason, status, created_at
		FROM appointments
		WHERE status = 'scheduled' AND starts_at > ? AND starts_at < ?
	`

	SelectClientAppointmentsQuery = `
		SELECT id, client_id, starts_at, duration_min, reason, status, created_at
		FROM appointments
		WHERE client_id = ? AND status = 'scheduled' AND starts_at >= ?
		ORDER BY starts_at
	`

	CancelAppointmentQuery = `
		UPDATE appointments
		SET status = 'cancelled'
		WHERE id = ? AND client_id = ? AND status = 'scheduled'
	`
)
