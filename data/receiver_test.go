/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package data

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/constellation-daq/Constellation-sub001/chirp"
	"github.com/constellation-daq/Constellation-sub001/config"
	"github.com/constellation-daq/Constellation-sub001/protocol"
)

func TestReceiverConfigureBuildsAllowlist(t *testing.T) {
	cm := newTestChirpManager(t, "Dummy.rx1")
	defer cm.Close()

	r := NewReceiver(cm, nil)
	cfg := config.New()
	cfg.ApplyDictionary(protocol.Dictionary{
		"_data_transmitters": protocol.StringSlice([]string{"Dummy.tx1"}),
	})
	require.NoError(t, r.Configure(cfg))

	require.True(t, r.shouldConnect(chirp.DiscoveredService{HostID: chirp.NewMD5Hash("Dummy.tx1")}))
	require.False(t, r.shouldConnect(chirp.DiscoveredService{HostID: chirp.NewMD5Hash("Dummy.tx2")}))
}

func TestReceiverConfigureRejectsBadCanonicalName(t *testing.T) {
	cm := newTestChirpManager(t, "Dummy.rx2")
	defer cm.Close()

	r := NewReceiver(cm, nil)
	cfg := config.New()
	cfg.ApplyDictionary(protocol.Dictionary{
		"_data_transmitters": protocol.StringSlice([]string{"not-a-canonical-name"}),
	})
	require.Error(t, r.Configure(cfg))
}

func TestReceiverCheckReconfigureRejectsTransmitterListChange(t *testing.T) {
	cm := newTestChirpManager(t, "Dummy.rx3")
	defer cm.Close()

	r := NewReceiver(cm, nil)
	require.Error(t, r.CheckReconfigure(protocol.Dictionary{"_data_transmitters": protocol.StringSlice(nil)}))
	require.NoError(t, r.CheckReconfigure(protocol.Dictionary{"other_key": protocol.Int64(1)}))
}

func TestReceiverHandleMessageTracksBORDataEOR(t *testing.T) {
	cm := newTestChirpManager(t, "Dummy.rx4")
	defer cm.Close()

	r := NewReceiver(cm, nil)
	r.senders = make(map[chirp.MD5Hash]*senderState)

	var mtx sync.Mutex
	var borSeen, eorSeen bool
	var dataSeen int
	var eorMeta protocol.Dictionary

	r.OnBOR = func(_ chirp.DiscoveredService, _ protocol.Header, cfg *config.Configuration) {
		mtx.Lock()
		borSeen = true
		mtx.Unlock()
		require.NotNil(t, cfg)
	}
	r.OnData = func(_ chirp.DiscoveredService, _ protocol.CDTPMessage) {
		mtx.Lock()
		dataSeen++
		mtx.Unlock()
	}
	r.OnEOR = func(_ chirp.DiscoveredService, _ protocol.Header, meta protocol.Dictionary) {
		mtx.Lock()
		eorSeen = true
		eorMeta = meta
		mtx.Unlock()
	}

	peer := chirp.DiscoveredService{HostID: chirp.NewMD5Hash("Dummy.tx1")}

	borCfg := config.New()
	borCfg.SetInt64("rate", 100, false)
	borPayload, err := borCfg.Assemble().Marshal()
	require.NoError(t, err)
	r.handleMessage(peer, protocol.CDTPMessage{Type: protocol.BOR, Sequence: 0, Frames: [][]byte{borPayload}})

	r.handleMessage(peer, protocol.CDTPMessage{Type: protocol.DATA, Sequence: 1, Frames: [][]byte{[]byte("a")}})
	r.handleMessage(peer, protocol.CDTPMessage{Type: protocol.DATA, Sequence: 2, Frames: [][]byte{[]byte("b")}})

	eorPayload, err := protocol.Dictionary{}.Marshal()
	require.NoError(t, err)
	r.handleMessage(peer, protocol.CDTPMessage{Type: protocol.EOR, Sequence: 3, Frames: [][]byte{eorPayload}})

	mtx.Lock()
	defer mtx.Unlock()
	require.True(t, borSeen)
	require.Equal(t, 2, dataSeen)
	require.True(t, eorSeen)
	require.Equal(t, "GOOD", eorMeta["condition"].S)
}

func TestReceiverHandleMessageDetectsSequenceGap(t *testing.T) {
	cm := newTestChirpManager(t, "Dummy.rx5")
	defer cm.Close()

	r := NewReceiver(cm, nil)
	r.senders = make(map[chirp.MD5Hash]*senderState)

	peer := chirp.DiscoveredService{HostID: chirp.NewMD5Hash("Dummy.tx1")}
	r.handleMessage(peer, protocol.CDTPMessage{Type: protocol.BOR, Sequence: 0})
	r.handleMessage(peer, protocol.CDTPMessage{Type: protocol.DATA, Sequence: 5})

	r.mtx.Lock()
	st := r.senders[peer.HostID]
	r.mtx.Unlock()
	st.mtx.Lock()
	cond := st.condition
	st.mtx.Unlock()
	require.NotEqual(t, protocol.ConditionGOOD, cond&protocol.ConditionINCOMPLETE)
}

func TestReceiverStoppingInsertsSyntheticEORAfterTimeout(t *testing.T) {
	cm := newTestChirpManager(t, "Dummy.rx6")
	defer cm.Close()

	r := NewReceiver(cm, nil)
	r.senders = make(map[chirp.MD5Hash]*senderState)
	r.eorTimeout = 20 * time.Millisecond
	r.allowed = map[chirp.MD5Hash]string{chirp.NewMD5Hash("Dummy.tx1"): "Dummy.tx1"}

	var eorCond protocol.RunCondition
	r.OnEOR = func(_ chirp.DiscoveredService, _ protocol.Header, meta protocol.Dictionary) {
		n, err := meta["condition_code"].AsInt64()
		require.NoError(t, err)
		eorCond = protocol.RunCondition(n)
	}

	peer := chirp.DiscoveredService{HostID: chirp.NewMD5Hash("Dummy.tx1")}
	r.handleMessage(peer, protocol.CDTPMessage{Type: protocol.BOR, Sequence: 0})

	err := r.Stopping(context.Background())
	require.Error(t, err)
	require.NotEqual(t, protocol.RunCondition(0), eorCond&protocol.ConditionABORTED)
}

func TestReceiverStoppingSucceedsWhenEORAlreadyReceived(t *testing.T) {
	cm := newTestChirpManager(t, "Dummy.rx7")
	defer cm.Close()

	r := NewReceiver(cm, nil)
	r.senders = make(map[chirp.MD5Hash]*senderState)
	r.eorTimeout = time.Second

	peer := chirp.DiscoveredService{HostID: chirp.NewMD5Hash("Dummy.tx1")}
	eorPayload, err := protocol.Dictionary{}.Marshal()
	require.NoError(t, err)
	r.handleMessage(peer, protocol.CDTPMessage{Type: protocol.BOR, Sequence: 0})
	r.handleMessage(peer, protocol.CDTPMessage{Type: protocol.EOR, Sequence: 1, Frames: [][]byte{eorPayload}})

	require.NoError(t, r.Stopping(context.Background()))
}
