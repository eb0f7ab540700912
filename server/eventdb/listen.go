package eventdb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SQL that we install on the Postgres side, so that every insert/update on
// security_event is broadcast on the 'security_event_changes' channel.
// The payload is {"op": ..., "row": {...}} where the row is the full record
// in its JSON form (SYNC-SECURITY-EVENT-ROW).
const notifyTriggerSQL = `
CREATE OR REPLACE FUNCTION notify_security_event_change() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('security_event_changes',
		json_build_object('op', TG_OP, 'row', row_to_json(NEW))::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS security_event_notify ON security_event;
CREATE TRIGGER security_event_notify
	AFTER INSERT OR UPDATE ON security_event
	FOR EACH ROW EXECUTE FUNCTION notify_security_event_change();
`

// notifyPayload is the JSON shape that the trigger above emits.
type notifyPayload struct {
	Op  ChangeOp       `json:"op"`
	Row *SecurityEvent `json:"row"`
}

// ChangeListener subscribes to the Postgres change feed of the event table,
// and republishes remote writes onto the EventDB watcher channels. This is
// only relevant when the event DB runs on Postgres and other processes
// (eg the detection server) write to the same table.
type ChangeListener struct {
	eventDB  *EventDB
	pool     *pgxpool.Pool
	conn     *pgxpool.Conn
	shutdown chan bool
}

// StartChangeListener installs the notify trigger and starts a goroutine
// that listens for changes until Close() is called.
func (e *EventDB) StartChangeListener(ctx context.Context, postgresDSN string) (*ChangeListener, error) {
	pool, err := pgxpool.New(ctx, postgresDSN)
	if err != nil {
		return nil, fmt.Errorf("Failed to connect to postgres for change feed: %w", err)
	}
	if _, err := pool.Exec(ctx, notifyTriggerSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("Failed to install change feed trigger: %w", err)
	}
	// The listening connection must be dedicated. A pooled connection that gets
	// handed out to somebody else would silently stop receiving notifications.
	conn, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN security_event_changes"); err != nil {
		conn.Release()
		pool.Close()
		return nil, err
	}
	c := &ChangeListener{
		eventDB:  e,
		pool:     pool,
		conn:     conn,
		shutdown: make(chan bool),
	}
	go c.runLoop(ctx)
	return c, nil
}

func (c *ChangeListener) runLoop(ctx context.Context) {
	log := c.eventDB.log
	log.Infof("ChangeListener: listening for event changes")
	for {
		select {
		case <-c.shutdown:
			return
		case <-ctx.Done():
			return
		default:
		}
		notification, err := c.conn.Conn().WaitForNotification(ctx)
		if err != nil {
			select {
			case <-c.shutdown:
				return
			case <-ctx.Done():
				return
			default:
				log.Warnf("ChangeListener: WaitForNotification: %v", err)
				continue
			}
		}
		payload := notifyPayload{}
		if err := json.Unmarshal([]byte(notification.Payload), &payload); err != nil {
			log.Warnf("ChangeListener: failed to decode change payload: %v", err)
			continue
		}
		if payload.Row == nil || (payload.Op != ChangeInsert && payload.Op != ChangeUpdate) {
			log.Warnf("ChangeListener: ignoring change notification with op '%v'", payload.Op)
			continue
		}
		c.eventDB.publish(payload.Op, payload.Row)
	}
}

// Close stops the listener and releases the Postgres connections.
func (c *ChangeListener) Close() {
	close(c.shutdown)
	c.conn.Release()
	c.pool.Close()
}
