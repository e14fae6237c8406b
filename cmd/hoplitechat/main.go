package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "hoplite server URL")
	useRAG := flag.Bool("rag", true, "ground answers in the document index")
	stream := flag.Bool("stream", false, "stream tokens instead of waiting for the full answer")
	flag.Parse()

	fmt.Println("hoplite CLI chat")
	fmt.Printf("Server: %s | RAG: %v | Stream: %v\n", *server, *useRAG, *stream)
	fmt.Println("Type 'exit' or 'quit' to leave.")
	fmt.Println("Commands: /health, /count, /reason <question> (force multi-hop), /history, /clear")
	fmt.Println("---")

	var conversationID string
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		switch {
		case input == "exit" || input == "quit":
			fmt.Println("Bye!")
			return
		case input == "/health":
			fetchHealth(*server)
			continue
		case input == "/count":
			fetchCount(*server)
			continue
		case input == "/history":
			fetchHistory(*server, conversationID)
			continue
		case input == "/clear":
			clearSession(*server, conversationID)
			conversationID = ""
			continue
		}

		forceReasoning := false
		if strings.HasPrefix(input, "/reason ") {
			forceReasoning = true
			input = strings.TrimSpace(strings.TrimPrefix(input, "/reason "))
			if input == "" {
				continue
			}
		}

		if *stream && !forceReasoning {
			conversationID = streamMessage(*server, conversationID, input, *useRAG)
		} else {
			conversationID = sendMessage(*server, conversationID, input, *useRAG, forceReasoning)
		}
	}
}

type chatPayload struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
	UseRAG         bool   `json:"use_rag"`
	UseReasoning   *bool  `json:"use_reasoning,omitempty"`
}

func sendMessage(server, conversationID, query string, useRAG, forceReasoning bool) string {
	payload := chatPayload{
		Query:          query,
		ConversationID: conversationID,
		UseRAG:         useRAG,
	}
	if forceReasoning {
		t := true
		payload.UseReasoning = &t
	}
	body, _ := json.Marshal(payload)

	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Post(server+"/api/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		printError("Request failed: %v", err)
		return conversationID
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return conversationID
	}

	var result struct {
		Answer         string   `json:"answer"`
		ConversationID string   `json:"conversation_id"`
		Sources        []string `json:"sources"`
		StrategyUsed   string   `json:"strategy_used"`
		ReasoningChain []struct {
			StepNumber int     `json:"step_number"`
			Question   string  `json:"question"`
			Answer     string  `json:"answer"`
			Confidence float64 `json:"confidence"`
		} `json:"reasoning_chain"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		printError("Failed to parse response: %v", err)
		return conversationID
	}

	for _, step := range result.ReasoningChain {
		fmt.Printf("\033[90m  hop %d: %s → %s (%.2f)\033[0m\n",
			step.StepNumber, step.Question, step.Answer, step.Confidence)
	}
	fmt.Printf("\033[36m[%s]\033[0m %s\n", result.StrategyUsed, result.Answer)
	if len(result.Sources) > 0 {
		fmt.Printf("\033[90m  sources: %s\033[0m\n", strings.Join(result.Sources, ", "))
	}
	return result.ConversationID
}

func streamMessage(server, conversationID, query string, useRAG bool) string {
	body, _ := json.Marshal(chatPayload{
		Query:          query,
		ConversationID: conversationID,
		UseRAG:         useRAG,
	})

	client := &http.Client{Timeout: 0}
	resp, err := client.Post(server+"/api/chat/stream", "application/json", bytes.NewReader(body))
	if err != nil {
		printError("Request failed: %v", err)
		return conversationID
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return conversationID
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev struct {
			ConversationID string `json:"conversation_id"`
			Token          string `json:"token"`
			Error          string `json:"error"`
			Done           bool   `json:"done"`
		}
		if err := json.Unmarshal([]byte(line[6:]), &ev); err != nil {
			continue
		}
		switch {
		case ev.ConversationID != "":
			conversationID = ev.ConversationID
		case ev.Error != "":
			printError("\nStream error: %s", ev.Error)
		case ev.Done:
			fmt.Println()
		default:
			fmt.Print(ev.Token)
		}
	}
	return conversationID
}

func fetchHealth(server string) {
	resp, err := http.Get(server + "/health")
	if err != nil {
		printError("Failed to fetch health: %v", err)
		return
	}
	defer resp.Body.Close()

	var health struct {
		Status              string `json:"status"`
		GenerationAvailable bool   `json:"generation_available"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		printError("Failed to parse health: %v", err)
		return
	}
	icon := "\033[31m✗\033[0m"
	if health.GenerationAvailable {
		icon = "\033[32m✓\033[0m"
	}
	fmt.Printf("Status: %s | generation %s\n", health.Status, icon)
}

func fetchCount(server string) {
	resp, err := http.Get(server + "/api/documents/count")
	if err != nil {
		printError("Failed to fetch count: %v", err)
		return
	}
	defer resp.Body.Close()

	var body struct {
		Count uint64 `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		printError("Failed to parse count: %v", err)
		return
	}
	fmt.Printf("Indexed fragments: %d\n", body.Count)
}

func fetchHistory(server, conversationID string) {
	if conversationID == "" {
		fmt.Println("No conversation yet.")
		return
	}
	resp, err := http.Get(server + "/api/sessions/" + conversationID + "/history")
	if err != nil {
		printError("Failed to fetch history: %v", err)
		return
	}
	defer resp.Body.Close()

	var body struct {
		Turns []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"turns"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		printError("Failed to parse history: %v", err)
		return
	}
	for _, turn := range body.Turns {
		fmt.Printf("\033[36m%s:\033[0m %s\n", turn.Role, turn.Content)
	}
}

func clearSession(server, conversationID string) {
	if conversationID == "" {
		return
	}
	req, _ := http.NewRequest(http.MethodDelete, server+"/api/sessions/"+conversationID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		printError("Failed to clear session: %v", err)
		return
	}
	resp.Body.Close()
	fmt.Println("Session cleared.")
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
