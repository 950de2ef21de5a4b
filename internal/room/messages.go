package room

// Inbound message types.
const (
	TypeJoin        = "join"
	TypeMove        = "move"
	TypeStartFix    = "startFix"
	TypeFixComplete = "fixComplete"
)

// Outbound message types.
const (
	TypeWelcome       = "welcomeMessage"
	TypeGameState     = "gameState"
	TypePanelsNeedFix = "panelsNeedFix"
	TypePlayerFixing  = "playerFixing"
	TypePanelFixed    = "panelFixed"
	TypeRoleAssigned  = "roleAssigned"
	TypeShipRepaired  = "shipRepaired"
	TypeError         = "error"
)

// inbound is the union of every client frame, discriminated by Type.
type inbound struct {
	Type      string   `json:"type" validate:"required,oneof=join move startFix fixComplete"`
	Name      string   `json:"name"`
	GameID    string   `json:"gameId"`
	MemberID  string   `json:"lobbyPlayerId" validate:"max=64"`
	X         *float64 `json:"x" validate:"required_if=Type move"`
	Y         *float64 `json:"y" validate:"required_if=Type move"`
	Z         *float64 `json:"z"`
	RotationY *float64 `json:"rotationY"`
	PanelID   *int     `json:"panelId" validate:"required_if=Type startFix,required_if=Type fixComplete"`
}

type WelcomeMessage struct {
	Type       string `json:"type"`
	PlayerID   string `json:"playerId"`
	GameID     string `json:"gameId"`
	PlayerName string `json:"playerName"`
	Color      int    `json:"color"`
}

// PlayerView is one entry of a gameState broadcast.
type PlayerView struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	RotationY float64 `json:"rotationY"`
	Color     int     `json:"color"`
}

type GameState struct {
	Type       string       `json:"type"`
	GameID     string       `json:"gameId"`
	Players    []PlayerView `json:"players"`
	GameWidth  int          `json:"gameWidth"`
	GameHeight int          `json:"gameHeight"`
	PlayerSize int          `json:"playerSize"`
}

type PanelsNeedFix struct {
	Type     string `json:"type"`
	PanelIDs []int  `json:"panelIds"`
}

type PlayerFixing struct {
	Type     string `json:"type"`
	PlayerID string `json:"playerId"`
	PanelID  int    `json:"panelId"`
}

type PanelFixed struct {
	Type     string `json:"type"`
	PanelID  int    `json:"panelId"`
	PlayerID string `json:"playerId"`
}

type RoleAssigned struct {
	Type string `json:"type"`
	Role string `json:"role"`
}

type ShipRepaired struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func errorMessage(msg string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: msg}
}
