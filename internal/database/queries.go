package database

import (
	"database/sql"
	"fmt"
	"time"
)

const messageSelect = `
	SELECT
			m.id,
			m.body,
			m.author_id,
			COALESCE(m.channel_id, 0),
			COALESCE(m.conversation_id, 0),
			COALESCE(m.parent_id, 0),
			m.edited,
			m.created_at,
			m.updated_at,
			a.username,
			a.display_name,
			COALESCE(ch.external_id, ''),
			COALESCE(cv.external_id, '')
	FROM messages m
	JOIN accounts a ON m.author_id = a.id
	LEFT JOIN channels ch ON m.channel_id = ch.id
	LEFT JOIN conversations cv ON m.conversation_id = cv.id
`

func nullableId(id int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(id), Valid: id != 0}
}

func (db *PgChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, display_name, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) RETURNING id, username, display_name, email, created_at, updated_at",
		params.Username,
		params.DisplayName,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.DisplayName,
		&u.EmailAddress,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, wrapError(err)
}

func (db *PgChatRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, display_name, email, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.DisplayName,
		&user.EmailAddress,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, wrapError(err)
}

func (db *PgChatRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, display_name, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.DisplayName,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, wrapError(err)
}

func (db *PgChatRepository) CreateChannel(params CreateChannelParams) (Channel, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Channel{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res := tx.QueryRow(
		"INSERT INTO channels (name, external_id, description, owner_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) RETURNING id, name, external_id, description, owner_id, created_at, updated_at",
		params.Name,
		params.ExternalId,
		params.Description,
		params.OwnerId,
		time.Now().UTC(),
	)

	var channel Channel
	err = res.Scan(
		&channel.Id,
		&channel.Name,
		&channel.ExternalId,
		&channel.Description,
		&channel.OwnerId,
		&channel.CreatedAt,
		&channel.UpdatedAt,
	)
	if err != nil {
		return Channel{}, wrapError(err)
	}

	// the owner is always a member of their own channel
	_, err = tx.Exec(
		"INSERT INTO channel_members (channel_id, account_id, created_at) VALUES ($1, $2, $3)",
		channel.Id,
		params.OwnerId,
		time.Now().UTC(),
	)
	if err != nil {
		return Channel{}, wrapError(err)
	}

	if err = tx.Commit(); err != nil {
		return Channel{}, err
	}

	return channel, nil
}

func (db *PgChatRepository) GetChannelByExternalId(externalId string) (Channel, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, description, owner_id, created_at, updated_at FROM channels "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var channel Channel
	err := row.Scan(
		&channel.Id,
		&channel.ExternalId,
		&channel.Name,
		&channel.Description,
		&channel.OwnerId,
		&channel.CreatedAt,
		&channel.UpdatedAt,
	)

	return channel, wrapError(err)
}

func (db *PgChatRepository) ListChannels(accountId int) ([]Channel, error) {
	rows, err := db.conn.Query(
		"SELECT c.id, c.external_id, c.name, c.description, c.owner_id FROM channel_members cm "+
			"JOIN channels c ON c.id = cm.channel_id WHERE cm.account_id = $1",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		var channel Channel
		if err = rows.Scan(&channel.Id, &channel.ExternalId, &channel.Name, &channel.Description, &channel.OwnerId); err != nil {
			break
		}

		channels = append(channels, channel)
	}
	return channels, err
}

func (db *PgChatRepository) AddChannelMember(channelId, accountId int) error {
	_, err := db.conn.Exec(
		"INSERT INTO channel_members (channel_id, account_id, created_at) VALUES ($1, $2, $3)",
		channelId,
		accountId,
		time.Now().UTC(),
	)

	return wrapError(err)
}

func (db *PgChatRepository) IsChannelMember(channelId, accountId int) bool {
	res := db.conn.QueryRow(
		"SELECT id FROM channel_members WHERE channel_id = $1 AND account_id = $2 LIMIT 1",
		channelId,
		accountId,
	)

	var id int
	return res.Scan(&id) == nil
}

func (db *PgChatRepository) GetConversationByExternalId(externalId string) (Conversation, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, low_user_id, high_user_id, created_at FROM conversations "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var conv Conversation
	err := row.Scan(
		&conv.Id,
		&conv.ExternalId,
		&conv.LowUserId,
		&conv.HighUserId,
		&conv.CreatedAt,
	)

	return conv, wrapError(err)
}

func (db *PgChatRepository) GetConversationByPair(userA, userB int) (Conversation, error) {
	low, high := normalizePair(userA, userB)

	row := db.conn.QueryRow(
		"SELECT id, external_id, low_user_id, high_user_id, created_at FROM conversations "+
			"WHERE low_user_id = $1 AND high_user_id = $2 LIMIT 1",
		low,
		high,
	)

	var conv Conversation
	err := row.Scan(
		&conv.Id,
		&conv.ExternalId,
		&conv.LowUserId,
		&conv.HighUserId,
		&conv.CreatedAt,
	)

	return conv, wrapError(err)
}

// CreateConversation inserts the single conversation row for an unordered
// user pair. The unique index on (low_user_id, high_user_id) turns a lost
// race into ErrDuplicate, which callers resolve by re-reading the pair.
func (db *PgChatRepository) CreateConversation(externalId string, userA, userB int) (Conversation, error) {
	low, high := normalizePair(userA, userB)

	res := db.conn.QueryRow(
		"INSERT INTO conversations (external_id, low_user_id, high_user_id, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, external_id, low_user_id, high_user_id, created_at",
		externalId,
		low,
		high,
		time.Now().UTC(),
	)

	var conv Conversation
	err := res.Scan(
		&conv.Id,
		&conv.ExternalId,
		&conv.LowUserId,
		&conv.HighUserId,
		&conv.CreatedAt,
	)

	return conv, wrapError(err)
}

func normalizePair(a, b int) (int, int) {
	if a > b {
		return b, a
	}
	return a, b
}

func (db *PgChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res := tx.QueryRow(
		"INSERT INTO messages (body, author_id, channel_id, conversation_id, parent_id, edited, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, false, $6, $6) RETURNING id, created_at, updated_at",
		params.Body,
		params.AuthorId,
		nullableId(params.ChannelId),
		nullableId(params.ConversationId),
		nullableId(params.ParentId),
		time.Now().UTC(),
	)

	var msg Message
	err = res.Scan(&msg.Id, &msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return Message{}, wrapError(err)
	}

	for _, att := range params.Attachments {
		_, err = tx.Exec(
			"INSERT INTO attachments (message_id, name, url, content_type, size) VALUES ($1, $2, $3, $4, $5)",
			msg.Id,
			att.Name,
			att.Url,
			att.ContentType,
			att.Size,
		)
		if err != nil {
			return Message{}, wrapError(err)
		}
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	msg.Body = params.Body
	msg.AuthorId = params.AuthorId
	msg.ChannelId = params.ChannelId
	msg.ConversationId = params.ConversationId
	msg.ParentId = params.ParentId

	return msg, nil
}

func (db *PgChatRepository) GetMessageById(id int) (Message, error) {
	row := db.conn.QueryRow(messageSelect+" WHERE m.id = $1 LIMIT 1", id)

	var msg Message
	err := row.Scan(
		&msg.Id,
		&msg.Body,
		&msg.AuthorId,
		&msg.ChannelId,
		&msg.ConversationId,
		&msg.ParentId,
		&msg.Edited,
		&msg.CreatedAt,
		&msg.UpdatedAt,
		&msg.AuthorUsername,
		&msg.AuthorDisplayName,
		&msg.ChannelExternalId,
		&msg.ConversationExternalId,
	)

	return msg, wrapError(err)
}

func (db *PgChatRepository) UpdateMessageBody(id int, body string) (Message, error) {
	_, err := db.conn.Exec(
		"UPDATE messages SET body = $2, edited = true, updated_at = $3 WHERE id = $1",
		id,
		body,
		time.Now().UTC(),
	)
	if err != nil {
		return Message{}, wrapError(err)
	}

	return db.GetMessageById(id)
}

func (db *PgChatRepository) DeleteMessage(id int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec("DELETE FROM reactions WHERE message_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM attachments WHERE message_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM messages WHERE id = $1", id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgChatRepository) GetMessages(params GetMessagesParams) ([]Message, error) {
	var upper int = 1<<31 - 1
	if params.Before > 0 {
		upper = params.Before - 1
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if params.ChannelId != 0 {
		rows, err = db.conn.Query(
			messageSelect+" WHERE m.channel_id = $1 AND m.id <= $2 ORDER BY m.id DESC LIMIT $3",
			params.ChannelId, upper, limit,
		)
	} else {
		rows, err = db.conn.Query(
			messageSelect+" WHERE m.conversation_id = $1 AND m.id <= $2 ORDER BY m.id DESC LIMIT $3",
			params.ConversationId, upper, limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		err = rows.Scan(
			&msg.Id,
			&msg.Body,
			&msg.AuthorId,
			&msg.ChannelId,
			&msg.ConversationId,
			&msg.ParentId,
			&msg.Edited,
			&msg.CreatedAt,
			&msg.UpdatedAt,
			&msg.AuthorUsername,
			&msg.AuthorDisplayName,
			&msg.ChannelExternalId,
			&msg.ConversationExternalId,
		)
		if err != nil {
			break
		}

		messages = append(messages, msg)
	}
	return messages, err
}

func (db *PgChatRepository) GetAttachments(messageId int) ([]Attachment, error) {
	rows, err := db.conn.Query(
		"SELECT id, message_id, name, url, content_type, size FROM attachments WHERE message_id = $1",
		messageId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attachments = make([]Attachment, 0)
	for rows.Next() {
		var att Attachment
		if err = rows.Scan(&att.Id, &att.MessageId, &att.Name, &att.Url, &att.ContentType, &att.Size); err != nil {
			break
		}

		attachments = append(attachments, att)
	}
	return attachments, err
}

// IsMessageVisible reports whether the account is a member of the channel or
// conversation the message belongs to.
func (db *PgChatRepository) IsMessageVisible(messageId, accountId int) bool {
	res := db.conn.QueryRow(`
		SELECT m.id FROM messages m
		LEFT JOIN channel_members cm ON cm.channel_id = m.channel_id AND cm.account_id = $2
		LEFT JOIN conversations cv ON cv.id = m.conversation_id
		WHERE m.id = $1 AND (cm.id IS NOT NULL OR cv.low_user_id = $2 OR cv.high_user_id = $2)
		LIMIT 1`,
		messageId,
		accountId,
	)

	var id int
	return res.Scan(&id) == nil
}

func (db *PgChatRepository) GetReaction(messageId, accountId int, emoji string) (Reaction, error) {
	row := db.conn.QueryRow(
		"SELECT id, message_id, account_id, emoji, created_at FROM reactions "+
			"WHERE message_id = $1 AND account_id = $2 AND emoji = $3 LIMIT 1",
		messageId,
		accountId,
		emoji,
	)

	var reaction Reaction
	err := row.Scan(
		&reaction.Id,
		&reaction.MessageId,
		&reaction.AccountId,
		&reaction.Emoji,
		&reaction.CreatedAt,
	)

	return reaction, wrapError(err)
}

func (db *PgChatRepository) CreateReaction(messageId, accountId int, emoji string) (Reaction, error) {
	res := db.conn.QueryRow(
		"INSERT INTO reactions (message_id, account_id, emoji, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, message_id, account_id, emoji, created_at",
		messageId,
		accountId,
		emoji,
		time.Now().UTC(),
	)

	var reaction Reaction
	err := res.Scan(
		&reaction.Id,
		&reaction.MessageId,
		&reaction.AccountId,
		&reaction.Emoji,
		&reaction.CreatedAt,
	)

	return reaction, wrapError(err)
}

func (db *PgChatRepository) DeleteReaction(messageId, accountId int, emoji string) error {
	_, err := db.conn.Exec(
		"DELETE FROM reactions WHERE message_id = $1 AND account_id = $2 AND emoji = $3",
		messageId,
		accountId,
		emoji,
	)

	return err
}

func (db *PgChatRepository) GetReactions(messageId int) ([]Reaction, error) {
	rows, err := db.conn.Query(
		"SELECT r.id, r.message_id, r.account_id, a.username, r.emoji, r.created_at FROM reactions r "+
			"JOIN accounts a ON r.account_id = a.id WHERE r.message_id = $1 ORDER BY r.id",
		messageId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reactions = make([]Reaction, 0)
	for rows.Next() {
		var reaction Reaction
		err = rows.Scan(
			&reaction.Id,
			&reaction.MessageId,
			&reaction.AccountId,
			&reaction.Username,
			&reaction.Emoji,
			&reaction.CreatedAt,
		)
		if err != nil {
			break
		}

		reactions = append(reactions, reaction)
	}
	return reactions, err
}

func (db *PgChatRepository) CreateHuddle(externalId string, channelId, creatorId int) (Huddle, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Huddle{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res := tx.QueryRow(
		"INSERT INTO huddles (external_id, channel_id, creator_id, status, started_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, external_id, creator_id, status, started_at",
		externalId,
		nullableId(channelId),
		creatorId,
		HuddleStatusActive,
		time.Now().UTC(),
	)

	var huddle Huddle
	err = res.Scan(
		&huddle.Id,
		&huddle.ExternalId,
		&huddle.CreatorId,
		&huddle.Status,
		&huddle.StartedAt,
	)
	if err != nil {
		return Huddle{}, wrapError(err)
	}
	huddle.ChannelId = channelId

	_, err = tx.Exec(
		"INSERT INTO huddle_participants (huddle_id, account_id, joined_at, audio_muted, video_on) "+
			"VALUES ($1, $2, $3, false, false)",
		huddle.Id,
		creatorId,
		time.Now().UTC(),
	)
	if err != nil {
		return Huddle{}, wrapError(err)
	}

	if err = tx.Commit(); err != nil {
		return Huddle{}, err
	}

	return huddle, nil
}

func (db *PgChatRepository) GetHuddleByExternalId(externalId string) (Huddle, error) {
	row := db.conn.QueryRow(
		"SELECT h.id, h.external_id, COALESCE(h.channel_id, 0), COALESCE(c.external_id, ''), "+
			"h.creator_id, h.status, h.started_at, h.ended_at FROM huddles h "+
			"LEFT JOIN channels c ON h.channel_id = c.id WHERE h.external_id = $1 LIMIT 1",
		externalId,
	)

	var huddle Huddle
	err := row.Scan(
		&huddle.Id,
		&huddle.ExternalId,
		&huddle.ChannelId,
		&huddle.ChannelExternalId,
		&huddle.CreatorId,
		&huddle.Status,
		&huddle.StartedAt,
		&huddle.EndedAt,
	)

	return huddle, wrapError(err)
}

// UpsertHuddleParticipant inserts the participant row, or clears the leave
// timestamp on the existing row when the user rejoins. The insert source
// selects from huddles guarded on status, so a join that races a concurrent
// end touches no rows and returns ErrNotFound instead of reviving a
// participant in an ended huddle.
func (db *PgChatRepository) UpsertHuddleParticipant(huddleId, accountId int) (HuddleParticipant, error) {
	res := db.conn.QueryRow(
		"INSERT INTO huddle_participants (huddle_id, account_id, joined_at, audio_muted, video_on) "+
			"SELECT h.id, $2, $3, false, false FROM huddles h WHERE h.id = $1 AND h.status = $4 "+
			"ON CONFLICT (huddle_id, account_id) DO UPDATE SET left_at = NULL, joined_at = EXCLUDED.joined_at "+
			"RETURNING id, huddle_id, account_id, joined_at, audio_muted, video_on",
		huddleId,
		accountId,
		time.Now().UTC(),
		HuddleStatusActive,
	)

	var p HuddleParticipant
	err := res.Scan(
		&p.Id,
		&p.HuddleId,
		&p.AccountId,
		&p.JoinedAt,
		&p.AudioMuted,
		&p.VideoOn,
	)

	return p, wrapError(err)
}

func (db *PgChatRepository) MarkParticipantLeft(huddleId, accountId int) error {
	_, err := db.conn.Exec(
		"UPDATE huddle_participants SET left_at = $3 WHERE huddle_id = $1 AND account_id = $2 AND left_at IS NULL",
		huddleId,
		accountId,
		time.Now().UTC(),
	)

	return err
}

func (db *PgChatRepository) SetParticipantAudio(huddleId, accountId int, muted bool) error {
	return db.setParticipantFlag(huddleId, accountId, "audio_muted", muted)
}

func (db *PgChatRepository) SetParticipantVideo(huddleId, accountId int, on bool) error {
	return db.setParticipantFlag(huddleId, accountId, "video_on", on)
}

func (db *PgChatRepository) setParticipantFlag(huddleId, accountId int, column string, value bool) error {
	res, err := db.conn.Exec(
		"UPDATE huddle_participants SET "+column+" = $3 "+
			"WHERE huddle_id = $1 AND account_id = $2 AND left_at IS NULL",
		huddleId,
		accountId,
		value,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

func (db *PgChatRepository) GetActiveParticipants(huddleId int) ([]HuddleParticipant, error) {
	rows, err := db.conn.Query(
		"SELECT p.id, p.huddle_id, p.account_id, a.username, a.display_name, p.joined_at, p.audio_muted, p.video_on "+
			"FROM huddle_participants p JOIN accounts a ON p.account_id = a.id "+
			"WHERE p.huddle_id = $1 AND p.left_at IS NULL ORDER BY p.joined_at",
		huddleId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants = make([]HuddleParticipant, 0)
	for rows.Next() {
		var p HuddleParticipant
		err = rows.Scan(
			&p.Id,
			&p.HuddleId,
			&p.AccountId,
			&p.Username,
			&p.DisplayName,
			&p.JoinedAt,
			&p.AudioMuted,
			&p.VideoOn,
		)
		if err != nil {
			break
		}

		participants = append(participants, p)
	}
	return participants, err
}

// EndHuddle transitions an active huddle to ended and marks all remaining
// participants as left. Ended is terminal: ending an already-ended huddle
// returns ErrNotFound so late operations fail rather than silently succeed.
func (db *PgChatRepository) EndHuddle(huddleId int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res, err := tx.Exec(
		"UPDATE huddles SET status = $2, ended_at = $3 WHERE id = $1 AND status = $4",
		huddleId,
		HuddleStatusEnded,
		now,
		HuddleStatusActive,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		err = fmt.Errorf("huddle %d: %w", huddleId, ErrNotFound)
		return err
	}

	_, err = tx.Exec(
		"UPDATE huddle_participants SET left_at = $2 WHERE huddle_id = $1 AND left_at IS NULL",
		huddleId,
		now,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}
