// Package usermsg centralizes all user-facing presentation strings.
package usermsg

const (
	OrderNotFound         = "Заказ не найден. Пожалуйста, отсканируйте QR-код снова."
	OrderExpired          = "Время заказа истекло. Пожалуйста, создайте новый заказ."
	PaymentCreationFailed = "Не удалось создать платеж. Пожалуйста, попробуйте позже."
	DeviceOffline         = "Кофемашина недоступна. Пожалуйста, попробуйте позже."
	HeartbeatCheckFailed  = "Не удалось проверить состояние кофемашины. Пожалуйста, попробуйте позже."
	InvalidRequest        = "Некорректный запрос. Пожалуйста, попробуйте снова."
	DrinkUnavailable      = "Напиток временно недоступен. Пожалуйста, выберите другой."
	MissingCredentials    = "Платежная система не настроена. Обратитесь к администратору."
	MakeCommandFailed     = "Не удалось отправить команду на приготовление напитка"
	ManualConfirmation    = "Платеж требует ручного подтверждения"
	CheckExhausted        = "Не удалось проверить статус платежа. Пожалуйста, обратитесь в поддержку."
)
