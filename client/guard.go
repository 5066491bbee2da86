package client

// Route — экран, на котором находится пользователь.
type Route int

const (
	// RouteEntry — экран входа/регистрации.
	RouteEntry Route = iota
	// RouteRoom — комната.
	RouteRoom
)

// Decision — что делать с текущим экраном.
type Decision int

const (
	// DecisionWait — состояние сессии ещё не известно: ничего не рисовать и не переходить.
	DecisionWait Decision = iota
	// DecisionRender — экран соответствует состоянию, рисуем его.
	DecisionRender
	// DecisionRedirectToRoom — пользователь вошёл, но находится на экране входа.
	DecisionRedirectToRoom
	// DecisionRedirectToEntry — пользователь не вошёл, но находится в комнате.
	DecisionRedirectToEntry
)

// Decide — чистая функция маршрутного ограждения. До завершения первичной
// загрузки всегда Wait: редирект по ещё-не-разрешённой сессии выбросил бы
// вошедшего пользователя на экран входа. Функция идемпотентна: повторный
// вызов с тем же входом даёт то же решение, а после выполнения редиректа
// новый вход даёт DecisionRender.
func Decide(initialLoadComplete, signedIn bool, route Route) Decision {
	if !initialLoadComplete {
		return DecisionWait
	}
	switch route {
	case RouteEntry:
		if signedIn {
			return DecisionRedirectToRoom
		}
	case RouteRoom:
		if !signedIn {
			return DecisionRedirectToEntry
		}
	}
	return DecisionRender
}
