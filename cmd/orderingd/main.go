// Command orderingd runs the ordered-proposal pipeline of a single node:
// MST aggregation, the on-demand ordering service, the ordering gate, and
// the status bus/command service front end, wired over a libp2p transport.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	appconfig "synnergy-network/cmd/config"
	"synnergy-network/core/ordering"
)

// toriiRequest is the client-facing wire shape for a submitted transaction:
// hashes travel as hex strings rather than raw byte arrays.
type toriiRequest struct {
	ReducedHash string `json:"reduced_hash"`
	FullHash    string `json:"full_hash"`
	Creator     string `json:"creator"`
	Quorum      uint32 `json:"quorum"`
}

func parseHash(s string) (ordering.Hash, error) {
	var h ordering.Hash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(h) {
		return h, fmt.Errorf("invalid hash %q", s)
	}
	copy(h[:], b)
	return h, nil
}

func toriiHandler(client *ordering.ClientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req toriiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reduced, err := parseHash(req.ReducedHash)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		full, err := parseHash(req.FullHash)
		if err != nil {
			full = reduced
		}
		tx := &ordering.Transaction{
			FullHash:    full,
			ReducedHash: reduced,
			Creator:     ordering.AccountID(req.Creator),
			Quorum:      req.Quorum,
		}
		if err := client.Torii(r.Context(), tx); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func statusHandler(client *ordering.ClientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := parseHash(r.URL.Query().Get("hash"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		status := client.Status(r.Context(), h)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Hash string `json:"hash"`
			Kind string `json:"kind"`
		}{Hash: r.URL.Query().Get("hash"), Kind: status.Kind.String()})
	}
}

// gateBatchIntake adapts *ordering.OrderingGate to ordering.BatchIntake: the
// command service's intake seam has no ctx of its own, while the gate's
// PropagateBatch takes one for its downstream connection-manager RPCs.
type gateBatchIntake struct{ gate *ordering.OrderingGate }

func (g gateBatchIntake) PropagateBatch(b *ordering.Batch) {
	g.gate.PropagateBatch(context.Background(), b)
}

// staticPeerResolver resolves PeerIDs that are themselves libp2p multiaddr
// strings, the way core/network.go's DialSeed treats its bootstrap list.
type staticPeerResolver struct{}

func (staticPeerResolver) Resolve(id ordering.PeerID) (peer.AddrInfo, error) {
	info, err := peer.AddrInfoFromString(string(id))
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("ordering: resolve peer %s: %w", id, err)
	}
	return *info, nil
}

func serve(cmd *cobra.Command, args []string) error {
	env := os.Getenv("SYNN_ENV")
	appconfig.LoadConfig(env)
	cfg := appconfig.AppConfig

	log := logrus.StandardLogger()
	reg := prometheus.NewRegistry()
	metrics := ordering.NewMetrics(reg)
	clock := ordering.SystemClock()

	listenAddr, _ := cmd.Flags().GetString("listen")
	if listenAddr == "" {
		listenAddr = cfg.Network.ListenAddr
	}
	host, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	defer host.Close()

	peers := make([]ordering.PeerID, 0, len(cfg.Network.BootstrapPeers))
	for _, addr := range cfg.Network.BootstrapPeers {
		peers = append(peers, ordering.PeerID(addr))
	}

	storage := ordering.NewStorage()
	initialRound := ordering.NewRound(1, ordering.FirstReject)

	svcCfg := ordering.OrderingServiceConfig{
		NumberOfProposals: cfg.Ordering.NumberOfProposals,
		TransactionLimit:  cfg.Ordering.TransactionLimit,
	}
	service := ordering.NewService(initialRound, svcCfg, clock, log)

	presence := ordering.NewMemoryPresenceCache()
	gateCache := ordering.NewGateCache()

	// gate/aggregator are constructed after the transport, but the
	// transport's inbound handlers need to call into them; close over
	// these forward-declared pointers rather than reordering construction,
	// since gate and aggregator each need the transport (via connMgr) to
	// exist first.
	var gate *ordering.OrderingGate
	var aggregator *ordering.Aggregator
	handlers := ordering.LibP2PHandlers{
		OnMstState: func(from ordering.PeerID, state *ordering.State) {
			aggregator.OnPeerState(from, state)
		},
		OnBatches: func(_ ordering.PeerID, round ordering.Round, batches []*ordering.Batch) {
			service.OnBatches(round, batches)
		},
		OnRequestProposal: func(_ context.Context, round ordering.Round) (*ordering.Proposal, error) {
			return service.OnRequestProposal(round), nil
		},
	}
	libp2pTransport := ordering.NewLibP2PTransport(host, staticPeerResolver{}, handlers, log)
	var transport ordering.Transport = libp2pTransport

	seeds := [3]uint64{initialRound.Hash(), initialRound.NextReject().Hash(), initialRound.NextCommit().Hash()}
	connMgr := ordering.NewConnectionManager(transport, peers, seeds, log)

	gateCfg := ordering.GateConfig{
		TransactionLimit:       cfg.Ordering.TransactionLimit,
		ProposalRequestTimeout: time.Duration(cfg.Ordering.ProposalRequestTimeMS) * time.Millisecond,
	}
	gate = ordering.NewOrderingGate(service, connMgr, gateCache, presence, initialRound, gateCfg, metrics, log)

	aggCfg := ordering.AggregatorConfig{
		ExpiryMS:           int64(cfg.Ordering.MSTExpirationMS),
		MaxConcurrentSends: ordering.DefaultMaxConcurrentSends,
	}
	strategy := ordering.NewPeriodicAllPeers(time.Duration(cfg.Ordering.ProposalDelayMS)*time.Millisecond, peers)
	aggregator = ordering.NewAggregator(storage, clock, libp2pTransport, strategy, aggCfg, metrics, log)
	aggregator.SetGate(gate)

	statusBus := ordering.NewStatusBus(metrics, log)
	statusCache, err := ordering.NewStatusCache(ordering.DefaultStatusCacheSize)
	if err != nil {
		return fmt.Errorf("create status cache: %w", err)
	}
	commands := ordering.NewCommandService(presence, statusBus, statusCache, aggregator, gateBatchIntake{gate}, log)
	client := ordering.NewClientService(commands, ordering.StatusStreamOptions{}, log)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/torii", toriiHandler(client))
	mux.HandleFunc("/status", statusHandler(client))

	addr, _ := cmd.Flags().GetString("http-addr")
	if addr == "" {
		addr = "127.0.0.1:9102"
	}
	log.Infof("orderingd listening for metrics on %s, node id %s", addr, host.ID().String())
	return http.ListenAndServe(addr, mux)
}

func main() {
	root := &cobra.Command{Use: "orderingd", Short: "run the ordered proposal pipeline"}
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "start the ordering node",
		RunE:  serve,
	}
	serveCmd.Flags().String("listen", "", "libp2p listen multiaddr, overrides config")
	serveCmd.Flags().String("http-addr", "", "address to serve /metrics, /torii and /status on")
	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
