/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package listener implements the listener library (C9): thin
// specializations of the CMDP subscriber pool for the log and stat
// streams. It has no listener for the LOG?/STAT? notification topics.
package listener

import (
	"strings"
	"sync"

	"github.com/crewjam/rfc5424"

	"github.com/constellation-daq/Constellation-sub001/chirp"
	"github.com/constellation-daq/Constellation-sub001/log"
	"github.com/constellation-daq/Constellation-sub001/pool"
	"github.com/constellation-daq/Constellation-sub001/protocol"
)

// LogRecord is one received LOG/<LEVEL> record, decoded from its CMDP
// envelope.
type LogRecord struct {
	Sender string
	HostID chirp.MD5Hash
	Level  protocol.LogLevel
	Text   string
}

// LogListener subscribes to the LOG/<LEVEL> topics at or more severe
// than a configured threshold, optionally mirroring every record
// through an RFC5424 writer and/or forwarding it to a caller callback.
type LogListener struct {
	cmdp     *pool.CMDPListener
	sink     *log.Logger
	onRecord func(LogRecord)

	mtx   sync.Mutex
	level protocol.LogLevel
}

// NewLogListener constructs a LogListener bound to manager's MONITORING
// discovery stream. sink, if non-nil, receives every record re-wrapped
// as an RFC5424 line; onRecord, if non-nil, is additionally called with
// the decoded record.
func NewLogListener(manager *chirp.Manager, sink *log.Logger, onRecord func(LogRecord), logger *log.Logger) *LogListener {
	l := &LogListener{sink: sink, onRecord: onRecord}
	l.cmdp = pool.NewCMDPListener(manager, l.handle, logger)
	return l
}

func (l *LogListener) StartPool() error         { return l.cmdp.StartPool() }
func (l *LogListener) StopPool() error          { return l.cmdp.StopPool() }
func (l *LogListener) CheckPoolException() error { return l.cmdp.CheckPoolException() }

// SetLevel subscribes to LOG/<LEVEL> for every level from CRITICAL
// through level (LevelOFF unsubscribes from everything), diffing
// against the previously subscribed set so no duplicate subscribe
// frames are sent.
func (l *LogListener) SetLevel(level protocol.LogLevel) {
	l.mtx.Lock()
	old := levelTopics(l.level)
	l.level = level
	l.mtx.Unlock()

	add := levelTopics(level)
	remove := diffTopics(old, add)
	added := diffTopics(add, old)
	l.cmdp.MultiscribeTopics(remove, added)
}

func levelTopics(level protocol.LogLevel) []string {
	if level == protocol.LevelOFF {
		return nil
	}
	topics := make([]string, 0, int(level))
	for lvl := protocol.LevelCRITICAL; lvl <= level; lvl++ {
		topics = append(topics, protocol.LogTopic(lvl, ""))
	}
	return topics
}

// diffTopics returns the entries of a not present in b.
func diffTopics(a, b []string) []string {
	have := make(map[string]struct{}, len(b))
	for _, t := range b {
		have[t] = struct{}{}
	}
	var out []string
	for _, t := range a {
		if _, ok := have[t]; !ok {
			out = append(out, t)
		}
	}
	return out
}

func (l *LogListener) handle(svc chirp.DiscoveredService, msg protocol.CMDPMessage) {
	lvl, ok := parseLogTopic(msg.Topic)
	if !ok {
		return
	}
	text, _ := msg.Payload.AsString()
	rec := LogRecord{Sender: msg.Header.Sender, HostID: svc.HostID, Level: lvl, Text: text}

	if l.sink != nil {
		line, err := log.GenRFCMessage(msg.Header.Time, logPriority(lvl), msg.Header.Sender, "cnstln", log.DefaultID, text)
		if err == nil {
			l.sink.Write(append(line, '\n'))
		}
	}
	if l.onRecord != nil {
		l.onRecord(rec)
	}
}

// parseLogTopic recovers the level component of a LOG/<LEVEL>[/subtopic]
// topic string.
func parseLogTopic(topic string) (protocol.LogLevel, bool) {
	if !protocol.IsLogTopic(topic) {
		return 0, false
	}
	rest := strings.TrimPrefix(topic, "LOG/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	switch rest {
	case "CRITICAL":
		return protocol.LevelCRITICAL, true
	case "STATUS":
		return protocol.LevelSTATUS, true
	case "WARNING":
		return protocol.LevelWARNING, true
	case "INFO":
		return protocol.LevelINFO, true
	case "DEBUG":
		return protocol.LevelDEBUG, true
	case "TRACE":
		return protocol.LevelTRACE, true
	}
	return 0, false
}

// logPriority mirrors log.Level.priority()'s facility/severity mapping,
// the closest exported equivalent being GenRFCMessage's explicit
// rfc5424.Priority argument.
func logPriority(lvl protocol.LogLevel) rfc5424.Priority {
	switch lvl {
	case protocol.LevelCRITICAL:
		return rfc5424.User | rfc5424.Crit
	case protocol.LevelSTATUS:
		return rfc5424.User | rfc5424.Notice
	case protocol.LevelWARNING:
		return rfc5424.User | rfc5424.Warning
	case protocol.LevelINFO:
		return rfc5424.User | rfc5424.Info
	}
	return rfc5424.User | rfc5424.Debug
}
