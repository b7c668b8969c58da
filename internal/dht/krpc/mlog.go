package krpc

// This file is home to the krpc package's mlog lines, the same role
// p2p/discover/mlog.go plays for the discovery protocol: one MLogT
// variable per handler event, registered once at init.

import "github.com/btdht/mldht/logger"

var mlogKRPC = logger.MLogRegisterAvailable("krpc", []logger.MLogT{
	mlogPingHandleFrom,
	mlogFindNodeHandleFrom,
	mlogGetPeersHandleFrom,
	mlogAnnouncePeerHandleFrom,
	mlogFindNodeSendNodes,
	mlogResponseHandleFrom,
})

// mlogPingHandleFrom is sent once for each ping query handled.
var mlogPingHandleFrom = logger.MLogT{
	Receiver: "PING",
	Verb:     "HANDLE",
	Subject:  "FROM",
	Details: []logger.MLogDetailT{
		{"FROM", "UDP_ADDRESS", "STRING"},
		{"FROM", "ID", "STRING"},
	},
}

// mlogFindNodeHandleFrom is sent once for each find_node query handled.
var mlogFindNodeHandleFrom = logger.MLogT{
	Receiver: "FIND_NODE",
	Verb:     "HANDLE",
	Subject:  "FROM",
	Details: []logger.MLogDetailT{
		{"FROM", "UDP_ADDRESS", "STRING"},
		{"FROM", "ID", "STRING"},
		{"FIND_NODE", "TARGET", "STRING"},
	},
}

// mlogGetPeersHandleFrom is sent once for each get_peers query handled.
var mlogGetPeersHandleFrom = logger.MLogT{
	Receiver: "GET_PEERS",
	Verb:     "HANDLE",
	Subject:  "FROM",
	Details: []logger.MLogDetailT{
		{"FROM", "UDP_ADDRESS", "STRING"},
		{"FROM", "ID", "STRING"},
		{"GET_PEERS", "INFO_HASH", "STRING"},
	},
}

// mlogAnnouncePeerHandleFrom is sent once for each announce_peer query
// handled, whether or not the token check passes.
var mlogAnnouncePeerHandleFrom = logger.MLogT{
	Receiver: "ANNOUNCE_PEER",
	Verb:     "HANDLE",
	Subject:  "FROM",
	Details: []logger.MLogDetailT{
		{"FROM", "UDP_ADDRESS", "STRING"},
		{"FROM", "ID", "STRING"},
		{"ANNOUNCE_PEER", "TOKEN_VALID", "BOOL"},
	},
}

// mlogFindNodeSendNodes is sent once for each compact "nodes" list
// returned from a find_node or get_peers query.
var mlogFindNodeSendNodes = logger.MLogT{
	Receiver: "FIND_NODE",
	Verb:     "SEND",
	Subject:  "NODES",
	Details: []logger.MLogDetailT{
		{"FIND_NODE", "TARGET", "STRING"},
		{"NODES", "LEN", "INT"},
	},
}

// mlogResponseHandleFrom is sent once for each matched response,
// generalized from the discovery protocol's per-message-type handlers
// since every KRPC response shares one envelope shape.
var mlogResponseHandleFrom = logger.MLogT{
	Receiver: "RESPONSE",
	Verb:     "HANDLE",
	Subject:  "FROM",
	Details: []logger.MLogDetailT{
		{"FROM", "UDP_ADDRESS", "STRING"},
		{"RESPONSE", "KIND", "INT"},
	},
}
