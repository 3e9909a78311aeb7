// Command taskworker is a reference worker that speaks the dispatch
// server's wire protocol: it connects, sends Register declaring
// CheckPrime/HashText capabilities, then loops handling Task frames and
// answering PingRequest heartbeats until the connection drops. It
// generalizes the teacher's worker-node client (worker-node/internal/
// client/client.go and cmd/worker/main.go), which dials the coordinator,
// handshakes, and runs a heartbeat ticker over a raw net.Conn, replacing
// the HELLO/ACK handshake with the spec's Register/RegisterResponse
// envelope and the cosine-similarity placeholder work with actually
// computing CheckPrime/HashText results.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"taskdispatch/internal/logging"
	"taskdispatch/internal/protocol"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:12345", "dispatch server address")
	name := flag.String("name", "taskworker", "worker display name")
	flag.Parse()

	log := logging.New("TASKWORKER")

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Error("dial %s: %v", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()
	log.Success("connected to %s", *addr)

	clientID := "client-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := protocol.WriteEnvelope(conn, protocol.NewRegister(protocol.RegisterPayload{
		ClientID:     clientID,
		ClientName:   *name,
		Capabilities: []string{"CheckPrime", "HashText"},
		Version:      "1.0",
	})); err != nil {
		log.Error("register: %v", err)
		os.Exit(1)
	}

	go heartbeatLoop(conn, clientID, log)

	for {
		raw, err := protocol.ReadFrame(conn)
		if err != nil {
			log.Warn("connection closed: %v", err)
			return
		}
		env, ok := protocol.DecodeEnvelope(raw)
		if !ok {
			log.Warn("dropped unparseable frame")
			continue
		}
		handleEnvelope(conn, env, log)
	}
}

func handleEnvelope(conn net.Conn, env protocol.Envelope, log *logging.Logger) {
	switch env.Type {
	case protocol.KindTask:
		if env.Task == nil {
			return
		}
		t := *env.Task
		log.Info("received task %s kind=%s", t.TaskID, t.Type)
		result := execute(t)
		if err := protocol.WriteEnvelope(conn, protocol.NewResult(result)); err != nil {
			log.Error("send result %s: %v", t.TaskID, err)
		}
	case protocol.KindPingRequest:
		if err := protocol.WriteEnvelope(conn, protocol.NewPingResponse(protocol.PingResponsePayload{
			ServerID: "dispatchd",
		})); err != nil {
			log.Warn("ping response: %v", err)
		}
	case protocol.KindRegisterResponse:
		if env.RegisterResponse != nil {
			log.Success("registered: %s", env.RegisterResponse.Message)
		}
	}
}

// execute computes the actual result for a task, per the two capability
// kinds this reference worker declares.
func execute(t protocol.TaskPayload) protocol.ResultPayload {
	switch t.Type {
	case "CheckPrime":
		n, err := strconv.Atoi(t.Data)
		if err != nil {
			return protocol.ResultPayload{TaskID: t.TaskID, Success: false, ResultData: fmt.Sprintf("invalid input: %v", err)}
		}
		return protocol.ResultPayload{TaskID: t.TaskID, Success: true, ResultData: strconv.FormatBool(isPrime(n))}
	case "HashText":
		sum := sha256.Sum256([]byte(t.Data))
		return protocol.ResultPayload{TaskID: t.TaskID, Success: true, ResultData: hex.EncodeToString(sum[:])}
	default:
		return protocol.ResultPayload{TaskID: t.TaskID, Success: false, ResultData: "unsupported kind " + t.Type}
	}
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	for i := 2; i*i <= n; i++ {
		if n%i == 0 {
			return false
		}
	}
	return true
}

func heartbeatLoop(conn net.Conn, clientID string, log *logging.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if err := protocol.WriteEnvelope(conn, protocol.NewPingRequest(protocol.PingRequestPayload{
			ClientID: clientID,
		})); err != nil {
			log.Warn("heartbeat: %v", err)
			return
		}
	}
}
