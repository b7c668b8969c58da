// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package metrics centralizes the registration of the node's go-metrics
// counters, meters, and gauges.
package metrics

import (
	"bufio"
	"encoding/json"
	"os"
	"runtime"
	"time"

	"github.com/btdht/mldht/logger/glog"
	"github.com/rcrowley/go-metrics"
)

// reg is the metrics destination.
var reg = metrics.NewRegistry()

// Inbound/outbound query traffic, broken down by KRPC query name.
var (
	QueryPingIn          = metrics.NewRegisteredMeter("query/ping/in", reg)
	QueryPingOut         = metrics.NewRegisteredMeter("query/ping/out", reg)
	QueryFindNodeIn      = metrics.NewRegisteredMeter("query/find_node/in", reg)
	QueryFindNodeOut     = metrics.NewRegisteredMeter("query/find_node/out", reg)
	QueryGetPeersIn      = metrics.NewRegisteredMeter("query/get_peers/in", reg)
	QueryGetPeersOut     = metrics.NewRegisteredMeter("query/get_peers/out", reg)
	QueryAnnouncePeerIn  = metrics.NewRegisteredMeter("query/announce_peer/in", reg)
	QueryAnnouncePeerOut = metrics.NewRegisteredMeter("query/announce_peer/out", reg)
	ResponseIn           = metrics.NewRegisteredMeter("response/in", reg)
	ErrorIn              = metrics.NewRegisteredMeter("error/in", reg)
	ErrorOut             = metrics.NewRegisteredMeter("error/out", reg)
)

// Error taxonomy counters, per spec.md §7.
var (
	ParseErrors          = metrics.NewRegisteredMeter("dht/parse_error", reg)
	UnknownTransactions  = metrics.NewRegisteredMeter("dht/unknown_tx", reg)
	ProtocolErrorsOnReq  = metrics.NewRegisteredMeter("dht/protocol_error", reg)
	TxPoolExhausted      = metrics.NewRegisteredMeter("dht/tx_pool_exhausted", reg)
	LevelHeapExhausted   = metrics.NewRegisteredMeter("dht/level_heap_exhausted", reg)
	SendErrors           = metrics.NewRegisteredMeter("dht/send_error", reg)
	TransactionsTimedOut = metrics.NewRegisteredMeter("dht/tx_timeout", reg)
)

// Routing table / peer database / scheduler gauges.
var (
	RoutingTableNodes    = metrics.GetOrRegisterGauge("table/nodes", reg)
	RoutingTableBadNodes = metrics.GetOrRegisterGauge("table/bad_nodes", reg)
	PeerDBInfohashes     = metrics.GetOrRegisterGauge("peerdb/infohashes", reg)
	PeerDBPeers          = metrics.GetOrRegisterGauge("peerdb/peers", reg)
	SchedulerTick        = metrics.NewRegisteredTimer("scheduler/tick", reg)
	NATRefreshFailures   = metrics.NewRegisteredMeter("nat/refresh_failure", reg)
)

var (
	MemAllocs = metrics.GetOrRegisterGauge("memory/allocs", reg)
	MemFrees  = metrics.GetOrRegisterGauge("memory/frees", reg)
	MemInuse  = metrics.GetOrRegisterGauge("memory/inuse", reg)
	MemPauses = metrics.GetOrRegisterGauge("memory/pauses", reg)

	DiskReads      = metrics.GetOrRegisterGauge("disk/readcount", reg)
	DiskReadBytes  = metrics.GetOrRegisterGauge("disk/readdata", reg)
	DiskWrites     = metrics.GetOrRegisterGauge("disk/writecount", reg)
	DiskWriteBytes = metrics.GetOrRegisterGauge("disk/writedata", reg)
)

// diskStats is the per process disk I/O statistics.
type diskStats struct {
	ReadCount  int64 // Number of read operations executed
	ReadBytes  int64 // Total number of bytes read
	WriteCount int64 // Number of write operations executed
	WriteBytes int64 // Total number of byte written
}

// Snapshot returns the current value of every registered metric, suitable
// for serving the control socket's "statistics" query.
func Snapshot() map[string]interface{} {
	out := make(map[string]interface{})
	reg.Each(func(name string, i interface{}) {
		out[name] = i
	})
	return out
}

// Collect appends a JSON-encoded metrics snapshot to file every 3 seconds.
func Collect(file string) {
	f, err := os.OpenFile(file, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0666)
	if err != nil {
		glog.Fatal(err)
	}
	defer f.Close()

	encoder := json.NewEncoder(bufio.NewWriter(f))

	for range time.Tick(3 * time.Second) {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		MemAllocs.Update(int64(mem.Mallocs))
		MemFrees.Update(int64(mem.Frees))
		MemInuse.Update(int64(mem.Alloc))
		MemPauses.Update(int64(mem.PauseTotalNs))

		var disk diskStats
		readDiskStats(&disk)
		DiskReads.Update(disk.ReadCount)
		DiskReadBytes.Update(disk.ReadBytes)
		DiskWrites.Update(disk.WriteCount)
		DiskWriteBytes.Update(disk.WriteBytes)

		if err := encoder.Encode(reg); err != nil {
			glog.Errorf("metrics: log to %q: %s", file, err)
		}
	}
}
