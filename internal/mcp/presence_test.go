package mcp

import (
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestSSEPresenceTracker_OnConnect(t *testing.T) {
	var onlineCalled bool
	var onlineAgentID string
	var mu sync.Mutex

	tracker := NewSSEPresenceTracker(
		func(agentID string) {
			mu.Lock()
			defer mu.Unlock()
			onlineCalled = true
			onlineAgentID = agentID
		},
		nil,
	)

	// Create mock connection
	w := httptest.NewRecorder()
	conn, err := NewSSEConnection("test-agent", w)
	if err != nil {
		t.Fatalf("Failed to create connection: %v", err)
	}

	// Test OnConnect
	tracker.OnConnect("test-agent", conn)

	// Verify callback was called
	mu.Lock()
	if !onlineCalled {
		t.Error("Expected onOnline callback to be called")
	}
	if onlineAgentID != "test-agent" {
		t.Errorf("Expected agent ID 'test-agent', got '%s'", onlineAgentID)
	}
	mu.Unlock()

	// Verify agent is in connected list
	if !tracker.IsConnected("test-agent") {
		t.Error("Agent should be marked as connected")
	}

	// Verify last seen was set
	lastSeen, ok := tracker.GetLastSeen("test-agent")
	if !ok {
		t.Error("Last seen timestamp should be set")
	}
	if time.Since(lastSeen) > 1*time.Second {
		t.Error("Last seen timestamp should be recent")
	}
}

func TestSSEPresenceTracker_OnDisconnect(t *testing.T) {
	var offlineCalled bool
	var offlineAgentID string
	var mu sync.Mutex

	tracker := NewSSEPresenceTracker(
		nil,
		func(agentID string) {
			mu.Lock()
			defer mu.Unlock()
			offlineCalled = true
			offlineAgentID = agentID
		},
	)

	// Add agent first
	w := httptest.NewRecorder()
	conn, _ := NewSSEConnection("test-agent", w)
	tracker.OnConnect("test-agent", conn)

	// Test OnDisconnect
	tracker.OnDisconnect("test-agent")

	// Verify callback was called
	mu.Lock()
	if !offlineCalled {
		t.Error("Expected onOffline callback to be called")
	}
	if offlineAgentID != "test-agent" {
		t.Errorf("Expected agent ID 'test-agent', got '%s'", offlineAgentID)
	}
	mu.Unlock()

	// Verify agent is removed from connected list
	if tracker.IsConnected("test-agent") {
		t.Error("Agent should not be marked as connected after disconnect")
	}

	// Verify last seen was removed
	_, ok := tracker.GetLastSeen("test-agent")
	if ok {
		t.Error("Last seen timestamp should be removed after disconnect")
	}
}

func TestSSEPresenceTracker_UpdateLastSeen(t *testing.T) {
	tracker := NewSSEPresenceTracker(nil, nil)

	// Add agent
	w := httptest.NewRecorder()
	conn, _ := NewSSEConnection("test-agent", w)
	tracker.OnConnect("test-agent", conn)

	// Get initial last seen
	initialLastSeen, _ := tracker.GetLastSeen("test-agent")

	// Wait a bit
	time.Sleep(100 * time.Millisecond)

	// Update last seen
	tracker.UpdateLastSeen("test-agent")

	// Get updated last seen
	updatedLastSeen, ok := tracker.GetLastSeen("test-agent")
	if !ok {
		t.Error("Last seen should still exist after update")
	}

	// Verify timestamp was updated
	if !updatedLastSeen.After(initialLastSeen) {
		t.Error("Last seen timestamp should be updated to a later time")
	}
}

func TestSSEPresenceTracker_GetConnectedAgents(t *testing.T) {
	tracker := NewSSEPresenceTracker(nil, nil)

	// Initially empty
	agents := tracker.GetConnectedAgents()
	if len(agents) != 0 {
		t.Errorf("Expected 0 connected agents, got %d", len(agents))
	}

	// Add agents
	w1 := httptest.NewRecorder()
	conn1, _ := NewSSEConnection("agent-1", w1)
	tracker.OnConnect("agent-1", conn1)

	w2 := httptest.NewRecorder()
	conn2, _ := NewSSEConnection("agent-2", w2)
	tracker.OnConnect("agent-2", conn2)

	// Check connected agents
	agents = tracker.GetConnectedAgents()
	if len(agents) != 2 {
		t.Errorf("Expected 2 connected agents, got %d", len(agents))
	}

	// Verify agent IDs are present
	agentMap := make(map[string]bool)
	for _, id := range agents {
		agentMap[id] = true
	}

	if !agentMap["agent-1"] || !agentMap["agent-2"] {
		t.Error("Expected both agent-1 and agent-2 in connected list")
	}
}

func TestSSEPresenceTracker_StaleMonitor(t *testing.T) {
	var offlineAgents []string
	var mu sync.Mutex

	tracker := NewSSEPresenceTracker(
		nil,
		func(agentID string) {
			mu.Lock()
			defer mu.Unlock()
			offlineAgents = append(offlineAgents, agentID)
		},
	)

	// Add agent
	w := httptest.NewRecorder()
	conn, _ := NewSSEConnection("test-agent", w)
	tracker.OnConnect("test-agent", conn)

	// Set last seen to 3 minutes ago (past 2 minute threshold)
	tracker.lastSeen.Store("test-agent", time.Now().Add(-3*time.Minute))

	// Start stale monitor
	tracker.StartStaleMonitor()
	defer tracker.Stop()

	// Wait for stale monitor to detect and disconnect agent
	// The monitor checks every 30 seconds, but for testing we only wait 1 second
	// Note: This is a simplified test - in production the monitor runs at 30s intervals
	time.Sleep(1 * time.Second)

	// Manually trigger one check by calling the monitor logic directly
	// (In real scenario, this would be triggered by the ticker)
	now := time.Now()
	staleThreshold := 2 * time.Minute

	tracker.lastSeen.Range(func(key, value interface{}) bool {
		agentID := key.(string)
		lastSeen := value.(time.Time)

		if now.Sub(lastSeen) > staleThreshold {
			tracker.OnDisconnect(agentID)
		}
		return true
	})

	// Verify agent was marked offline
	mu.Lock()
	defer mu.Unlock()

	if len(offlineAgents) != 1 {
		t.Errorf("Expected 1 offline agent, got %d", len(offlineAgents))
	}

	if len(offlineAgents) > 0 && offlineAgents[0] != "test-agent" {
		t.Errorf("Expected 'test-agent' to be marked offline, got '%s'", offlineAgents[0])
	}

	// Verify agent is no longer connected
	if tracker.IsConnected("test-agent") {
		t.Error("Stale agent should be marked as disconnected")
	}
}

func TestSSEPresenceTracker_MultipleAgents(t *testing.T) {
	tracker := NewSSEPresenceTracker(nil, nil)

	// Add multiple agents
	for i := 1; i <= 5; i++ {
		w := httptest.NewRecorder()
		agentID := fmt.Sprintf("agent-%d", i)
		conn, _ := NewSSEConnection(agentID, w)
		tracker.OnConnect(agentID, conn)
	}

	// Verify all agents are connected
	agents := tracker.GetConnectedAgents()
	if len(agents) != 5 {
		t.Errorf("Expected 5 connected agents, got %d", len(agents))
	}

	// Disconnect one agent
	tracker.OnDisconnect("agent-3")

	// Verify remaining agents
	agents = tracker.GetConnectedAgents()
	if len(agents) != 4 {
		t.Errorf("Expected 4 connected agents after disconnect, got %d", len(agents))
	}

	if tracker.IsConnected("agent-3") {
		t.Error("agent-3 should not be connected after disconnect")
	}

	// Verify other agents are still connected
	if !tracker.IsConnected("agent-1") || !tracker.IsConnected("agent-2") ||
		!tracker.IsConnected("agent-4") || !tracker.IsConnected("agent-5") {
		t.Error("Other agents should still be connected")
	}
}

func TestSSEPresenceTracker_ReconnectAgent(t *testing.T) {
	tracker := NewSSEPresenceTracker(nil, nil)

	// Connect agent
	w1 := httptest.NewRecorder()
	conn1, _ := NewSSEConnection("test-agent", w1)
	tracker.OnConnect("test-agent", conn1)

	// Get first connection last seen
	firstLastSeen, _ := tracker.GetLastSeen("test-agent")

	// Disconnect
	tracker.OnDisconnect("test-agent")

	if tracker.IsConnected("test-agent") {
		t.Error("Agent should not be connected after disconnect")
	}

	// Reconnect with new connection
	time.Sleep(100 * time.Millisecond)
	w2 := httptest.NewRecorder()
	conn2, _ := NewSSEConnection("test-agent", w2)
	tracker.OnConnect("test-agent", conn2)

	// Verify agent is connected again
	if !tracker.IsConnected("test-agent") {
		t.Error("Agent should be connected after reconnect")
	}

	// Verify last seen is updated
	secondLastSeen, ok := tracker.GetLastSeen("test-agent")
	if !ok {
		t.Error("Last seen should exist after reconnect")
	}

	if !secondLastSeen.After(firstLastSeen) {
		t.Error("Reconnect should update last seen timestamp")
	}
}
