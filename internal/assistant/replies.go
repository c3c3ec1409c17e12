package assistant

import (
	"fmt"
	"time"
)

var (
	greetings = []string{
		"¡Hola! Soy tu asistente con IA integrada. Puedo responder cualquier pregunta. ¿En qué puedo ayudarte?",
		"¡Hola! Soy Jarvis. ¿Qué necesitas hoy?",
		"¡Hey! Aquí estoy. Pregúntame lo que quieras.",
	}
	farewells = []string{
		"¡Hasta luego! Ha sido un placer conversar contigo.",
		"¡Adiós! Vuelve cuando necesites ayuda.",
		"¡Nos vemos! Que tengas un excelente día.",
	}
	weekdays = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}
	months   = [...]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"}
)

const helpText = `Soy un asistente con IA. Puedo:

Comandos básicos:
- Decir la hora y la fecha
- Abrir el navegador web
- Realizar búsquedas ("buscar <término>")

IA conversacional:
- Responder cualquier pregunta
- Mantener el contexto de la conversación

Configuración:
- "configurar openai <clave>" o "configurar gemini <clave>" para usar IA premium
- Sin configuración uso IA gratuita

¡Pregúntame lo que quieras!`

const (
	emptyReply         = "No te he entendido. ¿Puedes repetirlo?"
	browserReply       = "Abriendo el navegador web"
	missingTermReply   = "¿Qué quieres que busque? Usa: buscar <término>"
	configureUsage     = "Uso: configurar [openai|gemini|huggingface] <clave>"
	configureNeedsKey  = "Para configurar %s necesito la clave API: configurar %s <clave>"
	configureSavedFmt  = "Clave de %s guardada. Ahora uso %s."
	configureFailedFmt = "No pude guardar la clave de %s: %v"

	configureRemoteReply = "Por aquí no puedo guardar claves. Usa /configurar en Telegram o POST /v1/configure con el token de administración."
)

func timeReply(now time.Time) string {
	return "Son las " + now.Format("15:04")
}

// dateReply renders the date with Spanish weekday and month names, e.g.
// "Hoy es martes, 05 de marzo de 2024".
func dateReply(now time.Time) string {
	return fmt.Sprintf("Hoy es %s, %02d de %s de %d",
		weekdays[now.Weekday()], now.Day(), months[now.Month()-1], now.Year())
}

func searchReply(term string) string {
	return fmt.Sprintf("Buscando: %s (%s)", term, SearchURL(term))
}
