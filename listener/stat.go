/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package listener

import (
	"strconv"
	"strings"
	"time"

	"github.com/constellation-daq/Constellation-sub001/chirp"
	"github.com/constellation-daq/Constellation-sub001/log"
	"github.com/constellation-daq/Constellation-sub001/metricfmt"
	"github.com/constellation-daq/Constellation-sub001/pool"
	"github.com/constellation-daq/Constellation-sub001/protocol"
)

// StatRecord is one received STAT/<metric> record, with Rendered holding
// a human-readable form when the sender's "unit" tag names a recognized
// unit ("bytes", "bytes/s" or "count"); otherwise Rendered is the plain
// numeric value.
type StatRecord struct {
	Sender   string
	HostID   chirp.MD5Hash
	Metric   string
	Value    protocol.Value
	Unit     string
	Rendered string
}

// StatListener subscribes to STAT/<metric> streams and renders each
// value through metricfmt according to its descriptor's unit tag.
type StatListener struct {
	cmdp     *pool.CMDPListener
	onRecord func(StatRecord)
}

// NewStatListener constructs a StatListener bound to manager's
// MONITORING discovery stream. Call SubscribeAll or SubscribeMetrics to
// select which STAT/<metric> topics are delivered.
func NewStatListener(manager *chirp.Manager, onRecord func(StatRecord), logger *log.Logger) *StatListener {
	l := &StatListener{onRecord: onRecord}
	l.cmdp = pool.NewCMDPListener(manager, l.handle, logger)
	return l
}

func (l *StatListener) StartPool() error         { return l.cmdp.StartPool() }
func (l *StatListener) StopPool() error          { return l.cmdp.StopPool() }
func (l *StatListener) CheckPoolException() error { return l.cmdp.CheckPoolException() }

// SubscribeAll subscribes to every STAT/<metric> stream, relying on the
// transport's prefix-match topic filter.
func (l *StatListener) SubscribeAll() {
	l.cmdp.MultiscribeTopics(nil, []string{"STAT/"})
}

// SubscribeMetrics subscribes to specific metrics only.
func (l *StatListener) SubscribeMetrics(metrics ...string) {
	topics := make([]string, len(metrics))
	for i, m := range metrics {
		topics[i] = protocol.StatTopic(m)
	}
	l.cmdp.MultiscribeTopics(nil, topics)
}

func (l *StatListener) handle(svc chirp.DiscoveredService, msg protocol.CMDPMessage) {
	if !protocol.IsStatTopic(msg.Topic) {
		return
	}
	if l.onRecord == nil {
		return
	}
	metric := strings.TrimPrefix(msg.Topic, "STAT/")
	unit := tagString(msg.Header.Tags, "unit")

	rec := StatRecord{
		Sender: msg.Header.Sender,
		HostID: svc.HostID,
		Metric: metric,
		Value:  msg.Payload,
		Unit:   unit,
	}
	rec.Rendered = render(msg.Payload, unit)
	l.onRecord(rec)
}

func tagString(tags protocol.Dictionary, key string) string {
	if tags == nil {
		return ""
	}
	s, _ := tags[key].AsString()
	return s
}

func render(v protocol.Value, unit string) string {
	switch unit {
	case "bytes":
		if n, err := v.AsInt64(); err == nil {
			return metricfmt.HumanSize(uint64(n))
		}
	case "bytes/s":
		if f, err := v.AsFloat64(); err == nil {
			return metricfmt.HumanRate(uint64(f), time.Second)
		}
	case "count":
		if n, err := v.AsInt64(); err == nil {
			return metricfmt.HumanCount(uint64(n))
		}
	}
	switch v.Kind {
	case protocol.KindInt64:
		return strconv.FormatInt(v.I, 10)
	case protocol.KindFloat64:
		return strconv.FormatFloat(v.F, 'f', 2, 64)
	case protocol.KindString:
		return v.S
	}
	return ""
}
