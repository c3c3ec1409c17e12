package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"jarvis/internal/credentials"
	"jarvis/internal/intent"
	"jarvis/internal/providers"
	"jarvis/internal/worker"
)

const helpText = `Comandos:
/help - esta ayuda
/status - proveedor en uso
/ask <proveedor> <texto> - preguntar a un proveedor concreto
Cualquier otro mensaje se responde con la IA activa.

Administración:
/configurar <openai|gemini|huggingface> [clave]
/revocar <proveedor>
/reset - olvidar la conversación
/cancelar - cancelar la configuración en curso`

const (
	configureUsage = "Uso: /configurar <openai|gemini|huggingface> [clave]"
	adminOnlyReply = "Solo el administrador puede usar este comando."
	adminOffReply  = "La administración por Telegram está desactivada."
)

func (s *Service) help(ctx context.Context, m messenger, in incoming) error {
	return s.reply(ctx, m, in, helpText)
}

func (s *Service) status(ctx context.Context, m messenger, in incoming) error {
	st := s.assistant.Status()
	lines := []string{
		st.Summary(),
		fmt.Sprintf("Proveedor: %s", st.Provider.DisplayName()),
		fmt.Sprintf("Configurado: %s", yesNo(st.Configured)),
		fmt.Sprintf("Turnos en memoria: %d", st.HistoryTurns),
	}
	return s.reply(ctx, m, in, strings.Join(lines, "\n"))
}

func (s *Service) ask(ctx context.Context, m messenger, in incoming) error {
	providerArg, prompt := splitFirstWord(commandRemainder(in.Text))
	if providerArg == "" || prompt == "" {
		return s.reply(ctx, m, in, "Uso: /ask <proveedor> <texto>")
	}
	name, err := providers.ParseName(providerArg)
	if err != nil {
		// The router renders the unknown-provider diagnostic.
		name = providers.Name(strings.ToLower(providerArg))
	}
	return s.submit(ctx, m, in, prompt, name)
}

func (s *Service) text(ctx context.Context, m messenger, in incoming) error {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil
	}

	if in.private() && in.UserID != 0 {
		state, err := s.wizard.Get(ctx, in.UserID)
		if err != nil {
			s.logger.Error().Err(err).Msg("wizard load failed")
		} else if state != nil {
			return s.finishWizard(ctx, m, in, state, text)
		}
	}

	// Typed "configurar" goes through the same admin gate as the command.
	if intent.Classify(text).Kind == intent.ConfigureRequest {
		fields := strings.Fields(text)
		providerArg, secret := "", ""
		if len(fields) > 1 {
			providerArg = fields[1]
		}
		if len(fields) > 2 {
			secret = fields[2]
		}
		return s.configureWith(ctx, m, in, providerArg, secret)
	}
	return s.submit(ctx, m, in, text, "")
}

func (s *Service) submit(ctx context.Context, m messenger, in incoming, utterance string, explicit providers.Name) error {
	if !s.allowRate(ctx, m, in) {
		return nil
	}
	chatID, messageID := in.ChatID, in.MessageID
	_, err := s.worker.Submit(worker.Job{
		Utterance: utterance,
		Provider:  explicit,
		Reply: func(jobCtx context.Context, text string) {
			if err := m.Send(jobCtx, chatID, text, messageID); err != nil {
				s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send answer")
			}
		},
	})
	if errors.Is(err, worker.ErrQueueFull) {
		return s.reply(ctx, m, in, "Estoy ocupado ahora mismo. Inténtalo en unos segundos.")
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to submit turn")
		return s.reply(ctx, m, in, "No puedo responder ahora mismo.")
	}
	return nil
}

func (s *Service) configure(ctx context.Context, m messenger, in incoming) error {
	providerArg, secret := splitFirstWord(commandRemainder(in.Text))
	if secret != "" {
		secret, _ = splitFirstWord(secret)
	}
	return s.configureWith(ctx, m, in, providerArg, secret)
}

func (s *Service) configureWith(ctx context.Context, m messenger, in incoming, providerArg, secret string) error {
	if secret != "" {
		// The key must not linger in the chat history, whoever sent it.
		s.deleteMessage(ctx, m, in)
	}
	if !s.requireAdmin(ctx, m, in) {
		return nil
	}
	if providerArg == "" {
		return s.reply(ctx, m, in, configureUsage)
	}
	name, err := providers.ParseName(providerArg)
	if err != nil {
		return s.reply(ctx, m, in, "Proveedor desconocido. Usa openai, gemini o huggingface.")
	}
	if secret != "" {
		return s.applySecret(ctx, m, in, name, secret)
	}

	if !in.private() {
		return s.reply(ctx, m, in, "Envíame /configurar "+string(name)+" por privado para introducir la clave.")
	}
	if err := s.wizard.Set(ctx, in.UserID, keyWizardState{
		Provider: string(name),
		ChatID:   in.ChatID,
	}); err != nil {
		s.logger.Error().Err(err).Msg("wizard save failed")
		return s.reply(ctx, m, in, "No pude iniciar la configuración.")
	}
	return s.reply(ctx, m, in, fmt.Sprintf("Envíame la clave API de %s. /cancelar para salir.", name.DisplayName()))
}

func (s *Service) finishWizard(ctx context.Context, m messenger, in incoming, state *keyWizardState, secret string) error {
	if err := s.wizard.Clear(ctx, in.UserID); err != nil {
		s.logger.Warn().Err(err).Msg("wizard clear failed")
	}
	s.deleteMessage(ctx, m, in)
	if !s.isAdmin(in.UserID) {
		return nil
	}
	name, err := providers.ParseName(state.Provider)
	if err != nil {
		return s.reply(ctx, m, in, "Proveedor desconocido. Usa /configurar de nuevo.")
	}
	return s.applySecret(ctx, m, in, name, secret)
}

func (s *Service) applySecret(ctx context.Context, m messenger, in incoming, name providers.Name, secret string) error {
	err := s.assistant.Configure(ctx, name, secret)
	switch {
	case err == nil:
		return s.reply(ctx, m, in, fmt.Sprintf("Clave de %s guardada. %s.", name.DisplayName(), s.assistant.Status().Summary()))
	case errors.Is(err, credentials.ErrEmptySecret):
		return s.reply(ctx, m, in, "La clave está vacía.")
	default:
		s.logger.Error().Err(err).Str("provider", string(name)).Msg("configure failed")
		return s.reply(ctx, m, in, "No pude guardar la clave.")
	}
}

func (s *Service) revoke(ctx context.Context, m messenger, in incoming) error {
	if !s.requireAdmin(ctx, m, in) {
		return nil
	}
	providerArg, _ := splitFirstWord(commandRemainder(in.Text))
	name, err := providers.ParseName(providerArg)
	if err != nil {
		return s.reply(ctx, m, in, "Uso: /revocar <openai|gemini|huggingface>")
	}
	if err := s.assistant.Revoke(ctx, name); err != nil {
		s.logger.Error().Err(err).Str("provider", string(name)).Msg("revoke failed")
		return s.reply(ctx, m, in, "No pude revocar la clave.")
	}
	return s.reply(ctx, m, in, fmt.Sprintf("Clave de %s eliminada. %s.", name.DisplayName(), s.assistant.Status().Summary()))
}

func (s *Service) reset(ctx context.Context, m messenger, in incoming) error {
	if !s.requireAdmin(ctx, m, in) {
		return nil
	}
	s.assistant.Reset()
	return s.reply(ctx, m, in, "Conversación olvidada.")
}

func (s *Service) cancelWizard(ctx context.Context, m messenger, in incoming) error {
	if in.UserID == 0 {
		return nil
	}
	if err := s.wizard.Clear(ctx, in.UserID); err != nil {
		return s.reply(ctx, m, in, "No pude cancelar ahora mismo.")
	}
	return s.reply(ctx, m, in, "Configuración cancelada.")
}

func (s *Service) isAdmin(userID int64) bool {
	return s.adminUserID > 0 && userID == s.adminUserID
}

func (s *Service) requireAdmin(ctx context.Context, m messenger, in incoming) bool {
	if s.adminUserID <= 0 {
		_ = s.reply(ctx, m, in, adminOffReply)
		return false
	}
	if !s.isAdmin(in.UserID) {
		_ = s.reply(ctx, m, in, adminOnlyReply)
		return false
	}
	return true
}

func (s *Service) allowRate(ctx context.Context, m messenger, in incoming) bool {
	if in.UserID == 0 || s.rateLimiter == nil {
		return true
	}
	ok, _, resetAt, err := s.rateLimiter.Allow(ctx, "tg:"+strconv.FormatInt(in.UserID, 10), s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("rate limiter failed")
		return true
	}
	if ok {
		return true
	}
	_ = s.reply(ctx, m, in, "Límite de mensajes alcanzado. Vuelve a intentarlo después de las "+resetAt.Format("15:04 UTC"))
	return false
}

func (s *Service) deleteMessage(ctx context.Context, m messenger, in incoming) {
	if err := m.Delete(ctx, in.ChatID, in.MessageID); err != nil {
		s.logger.Warn().Err(err).Msg("failed to delete message carrying a key")
	}
}

func (s *Service) reply(ctx context.Context, m messenger, in incoming, text string) error {
	return m.Send(ctx, in.ChatID, text, 0)
}

func commandRemainder(text string) string {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func splitFirstWord(s string) (first string, rest string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	idx := strings.IndexByte(s, ' ')
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimSpace(s[idx+1:])
}

func yesNo(v bool) string {
	if v {
		return "sí"
	}
	return "no"
}
